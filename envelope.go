package muatan

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Envelope is the uniform wrapper every pipeline call resolves to. Exactly one
// of Data/Error is meaningful, gated by Success.
type Envelope struct {
	Success bool             `json:"success"`
	Data    json.RawMessage  `json:"data"`
	Error   *ErrorDescriptor `json:"error"`
	Meta    *Meta            `json:"meta"`
}

// DecodeData unmarshals the envelope's data payload into v.
func (e *Envelope) DecodeData(v any) error {
	if e == nil || len(e.Data) == 0 {
		return fmt.Errorf("muatan: envelope has no data")
	}
	return json.Unmarshal(e.Data, v)
}

// DecodeData is the typed counterpart of Envelope.DecodeData.
func DecodeData[T any](env *Envelope) (T, error) {
	var v T
	if err := env.DecodeData(&v); err != nil {
		return v, err
	}
	return v, nil
}

// ErrorDescriptor is the single shape every failure is normalized into:
// transport errors, HTTP status failures and backend-supplied error bodies.
type ErrorDescriptor struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Path    string         `json:"path,omitempty"`
}

// Meta carries response metadata supplied by the backend or synthesized by
// the normalizer.
type Meta struct {
	Timestamp      time.Time   `json:"timestamp"`
	RequestID      string      `json:"requestId,omitempty"`
	ProcessingTime *float64    `json:"processingTime,omitempty"`
	Pagination     *Pagination `json:"pagination,omitempty"`
}

// Pagination describes listing responses.
type Pagination struct {
	Page        int  `json:"page"`
	PageSize    int  `json:"pageSize"`
	TotalPages  int  `json:"totalPages"`
	TotalItems  int  `json:"totalItems"`
	HasNext     bool `json:"hasNext"`
	HasPrevious bool `json:"hasPrevious"`
}

// ErrorCode is the wire union string|number for error codes. HTTP status
// failures produce numeric codes, synthesized client-side failures produce
// string codes such as NETWORK_ERROR.
type ErrorCode struct {
	str     string
	num     int
	numeric bool
}

// CodeFromStatus returns a numeric code for an HTTP status.
func CodeFromStatus(status int) ErrorCode {
	return ErrorCode{num: status, numeric: true, str: strconv.Itoa(status)}
}

// CodeString returns a string code.
func CodeString(s string) ErrorCode {
	return ErrorCode{str: s}
}

// String renders the code regardless of wire form.
func (c ErrorCode) String() string { return c.str }

// Status returns the numeric form, false when the code is a string code.
func (c ErrorCode) Status() (int, bool) { return c.num, c.numeric }

func (c ErrorCode) MarshalJSON() ([]byte, error) {
	if c.numeric {
		return []byte(strconv.Itoa(c.num)), nil
	}
	return json.Marshal(c.str)
}

func (c *ErrorCode) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*c = CodeFromStatus(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("muatan: error code must be string or number: %w", err)
	}
	*c = CodeString(s)
	return nil
}

// Header names the backend uses for per-response metadata.
const (
	headerRequestID      = "X-Request-Id"
	headerProcessingTime = "X-Processing-Time"
)

// synthesizeMeta builds Meta from response headers when the backend did not
// send an envelope of its own.
func synthesizeMeta(resp *http.Response) *Meta {
	m := &Meta{Timestamp: time.Now().UTC()}
	if resp == nil {
		return m
	}
	m.RequestID = resp.Header.Get(headerRequestID)
	if v := resp.Header.Get(headerProcessingTime); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil {
			m.ProcessingTime = &ms
		}
	}
	return m
}

// envelopeProbe detects whether a body is already envelope-shaped.
type envelopeProbe struct {
	Success *bool            `json:"success"`
	Data    json.RawMessage  `json:"data"`
	Error   *ErrorDescriptor `json:"error"`
	Meta    *Meta            `json:"meta"`
}

// normalizeSuccess passes envelope-shaped bodies through verbatim and wraps
// raw payloads otherwise. A failure-shaped envelope arriving on a 2xx status
// still gets a descriptor, so Success false always pairs with a non-nil Error.
func normalizeSuccess(resp *http.Response, body []byte) *Envelope {
	var probe envelopeProbe
	if len(body) > 0 && json.Unmarshal(body, &probe) == nil && probe.Success != nil {
		env := &Envelope{
			Success: *probe.Success,
			Data:    probe.Data,
			Error:   probe.Error,
			Meta:    probe.Meta,
		}
		if !env.Success {
			if env.Error == nil {
				env.Error = normalizeFailure(resp.StatusCode, body)
			}
			if env.Meta == nil {
				env.Meta = synthesizeMeta(resp)
			}
		}
		return env
	}
	data := json.RawMessage(nil)
	if len(body) > 0 {
		if json.Valid(body) {
			data = json.RawMessage(body)
		} else {
			// Non-JSON payload (file download, plain text): carry it as a
			// JSON string so the envelope stays well formed.
			enc, _ := json.Marshal(string(body))
			data = enc
		}
	}
	return &Envelope{Success: true, Data: data, Meta: synthesizeMeta(resp)}
}

// normalizeFailure maps a non-2xx response body to an ErrorDescriptor.
// Priority: structured error in the body, then a bare message, then a
// descriptor synthesized from the status line.
func normalizeFailure(status int, body []byte) *ErrorDescriptor {
	var probe envelopeProbe
	if len(body) > 0 && json.Unmarshal(body, &probe) == nil && probe.Error != nil && probe.Error.Message != "" {
		return probe.Error
	}
	var bare struct {
		Message string `json:"message"`
	}
	if len(body) > 0 && json.Unmarshal(body, &bare) == nil && bare.Message != "" {
		return &ErrorDescriptor{Code: CodeFromStatus(status), Message: bare.Message}
	}
	return &ErrorDescriptor{Code: CodeFromStatus(status), Message: http.StatusText(status)}
}

// networkErrorDescriptor is the descriptor synthesized when no response was
// received at all.
func networkErrorDescriptor() *ErrorDescriptor {
	return &ErrorDescriptor{
		Code:    CodeString("NETWORK_ERROR"),
		Message: "Network error occurred. Please check your connection and try again.",
	}
}
