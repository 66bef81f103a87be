// Package muatan is the client-side request and orchestration core for the
// Muatan freight-rate tracking surfaces. It gives every screen the same three
// building blocks:
//
//   - Client, a resilient API pipeline that speaks the backend's response
//     envelope. Every call resolves to an Envelope with exactly one of
//     data/error set, regardless of whether the backend answered with an
//     envelope, a bare payload, an HTTP failure or no response at all.
//     Retries with exponential backoff, auth header injection, 401 session
//     clearing, caching, request deduplication, circuit breaking and
//     client-side rate limiting are built in.
//
//   - Call, a generic lifecycle controller binding one operation to
//     observable idle/loading/success/error state. Re-executing supersedes
//     the in-flight operation: the observable outcome is always that of the
//     most recently initiated execution, regardless of completion order.
//
//   - Form, a state container for field values, errors and touched flags
//     with debounced change validation, blur validation and submission gated
//     on a clean validation pass.
//
// A typical usage site wires the three together:
//
//	session := muatan.NewSession()
//	client := muatan.New(
//		muatan.WithBaseURL("https://api.example.com"),
//		muatan.WithSession(session),
//	)
//
//	call := muatan.NewCall(func(ctx context.Context) (*muatan.Envelope, error) {
//		return client.Get(ctx, "/price-movements", nil)
//	})
//	call.Execute(ctx)
//
// The package is safe for concurrent use throughout.
package muatan
