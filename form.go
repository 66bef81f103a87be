package muatan

import (
	"context"
	"sync"
	"time"
)

// Validator checks a snapshot of form values and returns one message per
// invalid field. Fields absent from the returned map are valid. Validators
// may perform I/O; the engine always invokes them the same way.
type Validator func(ctx context.Context, values map[string]any) map[string]string

// SubmitFunc is the caller-supplied submit action, invoked only after
// validation passes. It reports outcomes back into the form through helpers.
type SubmitFunc func(ctx context.Context, values map[string]any, helpers FormHelpers) error

// FormHelpers lets the submit action update form state mid-flight.
type FormHelpers struct {
	SetSubmitting func(bool)
	SetErrors     func(map[string]string)
	Reset         func()
}

// FormOption configures a Form.
type FormOption func(*Form)

// WithValidator sets the form validator.
func WithValidator(v Validator) FormOption {
	return func(f *Form) {
		f.validator = v
	}
}

// WithSubmit sets the submit action.
func WithSubmit(fn SubmitFunc) FormOption {
	return func(f *Form) {
		f.onSubmit = fn
	}
}

// WithChangeValidation enables debounced full-form validation on every value
// change. Zero delay uses the 200ms default.
func WithChangeValidation(delay time.Duration) FormOption {
	return func(f *Form) {
		f.validateOnChange = true
		if delay > 0 {
			f.changeDebounce = delay
		}
	}
}

// WithBlurValidation toggles validation on blur (default on).
func WithBlurValidation(enabled bool) FormOption {
	return func(f *Form) {
		f.validateOnBlur = enabled
	}
}

// WithBlurValidatesForm makes blur validate the whole form instead of the
// blurred field only.
func WithBlurValidatesForm() FormOption {
	return func(f *Form) {
		f.blurValidatesForm = true
	}
}

// WithFormMetrics records submissions on the given collector.
func WithFormMetrics(mc *MetricsCollector) FormOption {
	return func(f *Form) {
		f.metrics = mc
	}
}

// Form is a generic state container for field values, errors and touched
// flags, with validation scheduling and gated submission. It never performs
// I/O itself; the submit action decides how outcomes happen, typically by
// driving a Call-wrapped pipeline operation. Safe for concurrent use.
type Form struct {
	mu sync.Mutex

	initial map[string]any
	values  map[string]any
	errs    map[string]string
	touched map[string]bool

	submitting       bool
	submitterSetFlag bool

	validator Validator
	onSubmit  SubmitFunc

	validateOnChange  bool
	changeDebounce    time.Duration
	validateOnBlur    bool
	blurValidatesForm bool

	debounceTimer *time.Timer
	debounceGen   uint64

	metrics *MetricsCollector
}

// NewForm creates a form seeded from initial values. The initial map is
// copied; later Reset calls restore exactly these values.
func NewForm(initial map[string]any, opts ...FormOption) *Form {
	f := &Form{
		initial:        copyValues(initial),
		values:         copyValues(initial),
		errs:           make(map[string]string),
		touched:        make(map[string]bool),
		changeDebounce: 200 * time.Millisecond,
		validateOnBlur: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// HandleChange writes a field value. With change validation enabled, a
// debounced full-form validation is (re)scheduled.
func (f *Form) HandleChange(ctx context.Context, field string, value any) {
	f.mu.Lock()
	f.values[field] = value
	if !f.validateOnChange || f.validator == nil {
		f.mu.Unlock()
		return
	}
	f.debounceGen++
	gen := f.debounceGen
	if f.debounceTimer != nil {
		f.debounceTimer.Stop()
	}
	// The keystroke's context is often cancelled before the debounce fires;
	// the deferred validation keeps its values but not its cancellation.
	ctx = context.WithoutCancel(ctx)
	f.debounceTimer = time.AfterFunc(f.changeDebounce, func() {
		f.mu.Lock()
		stale := gen != f.debounceGen
		f.mu.Unlock()
		if !stale {
			f.ValidateForm(ctx)
		}
	})
	f.mu.Unlock()
}

// HandleBlur marks a field touched and, with blur validation on, validates
// the field (or the whole form, per configuration).
func (f *Form) HandleBlur(ctx context.Context, field string) {
	f.mu.Lock()
	f.touched[field] = true
	validate := f.validateOnBlur && f.validator != nil
	wholeForm := f.blurValidatesForm
	f.mu.Unlock()

	if !validate {
		return
	}
	if wholeForm {
		f.ValidateForm(ctx)
	} else {
		f.ValidateField(ctx, field)
	}
}

// ValidateField re-runs the validator and updates the single field's error:
// set when the validator reports it, cleared when absent.
func (f *Form) ValidateField(ctx context.Context, field string) {
	if f.validator == nil {
		return
	}
	result := f.validator(ctx, f.Values())

	f.mu.Lock()
	if msg, bad := result[field]; bad {
		f.errs[field] = msg
	} else {
		delete(f.errs, field)
	}
	f.mu.Unlock()
}

// ValidateForm re-runs the validator and replaces the error map wholesale, so
// fields absent from the result are cleared.
func (f *Form) ValidateForm(ctx context.Context) map[string]string {
	if f.validator == nil {
		return nil
	}
	result := f.validator(ctx, f.Values())

	f.mu.Lock()
	f.errs = make(map[string]string, len(result))
	for field, msg := range result {
		f.errs[field] = msg
	}
	f.mu.Unlock()
	return result
}

// SetFieldValue is the programmatic equivalent of HandleChange without
// validation scheduling, used by composite field components.
func (f *Form) SetFieldValue(field string, value any) {
	f.mu.Lock()
	f.values[field] = value
	f.mu.Unlock()
}

// SetFieldTouched marks or unmarks a field as touched.
func (f *Form) SetFieldTouched(field string, touched bool) {
	f.mu.Lock()
	if touched {
		f.touched[field] = true
	} else {
		delete(f.touched, field)
	}
	f.mu.Unlock()
}

// SetFieldError sets or clears (empty message) one field error.
func (f *Form) SetFieldError(field, message string) {
	f.mu.Lock()
	if message == "" {
		delete(f.errs, field)
	} else {
		f.errs[field] = message
	}
	f.mu.Unlock()
}

// HandleSubmit validates the whole form and, only when zero errors result,
// invokes the submit action. Validation failure marks every reported field
// touched, leaves entered values intact and returns ErrValidationFailed
// without invoking the action. A submit while one is already in flight
// returns ErrSubmitInFlight untouched.
func (f *Form) HandleSubmit(ctx context.Context) error {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return ErrSubmitInFlight
	}
	f.submitting = true
	f.submitterSetFlag = false
	f.mu.Unlock()

	if f.validator != nil {
		result := f.validator(ctx, f.Values())
		if len(result) > 0 {
			f.mu.Lock()
			f.errs = make(map[string]string, len(result))
			for field, msg := range result {
				f.errs[field] = msg
				f.touched[field] = true
			}
			f.submitting = false
			f.mu.Unlock()
			f.metrics.RecordFormSubmission("blocked")
			return ErrValidationFailed
		}
		f.mu.Lock()
		f.errs = make(map[string]string)
		f.mu.Unlock()
	}

	if f.onSubmit == nil {
		f.mu.Lock()
		f.submitting = false
		f.mu.Unlock()
		return nil
	}

	helpers := FormHelpers{
		SetSubmitting: func(v bool) {
			f.mu.Lock()
			f.submitting = v
			f.submitterSetFlag = true
			f.mu.Unlock()
		},
		SetErrors: func(errs map[string]string) {
			f.mu.Lock()
			f.errs = make(map[string]string, len(errs))
			for field, msg := range errs {
				f.errs[field] = msg
			}
			f.mu.Unlock()
		},
		Reset: f.Reset,
	}

	err := f.onSubmit(ctx, f.Values(), helpers)

	f.mu.Lock()
	if !f.submitterSetFlag {
		f.submitting = false
	}
	f.mu.Unlock()

	if err != nil {
		f.metrics.RecordFormSubmission("failed")
		return err
	}
	f.metrics.RecordFormSubmission("submitted")
	return nil
}

// Reset restores values to the original initial values, clears errors and
// touched flags and drops any pending debounced validation.
func (f *Form) Reset() {
	f.mu.Lock()
	f.values = copyValues(f.initial)
	f.errs = make(map[string]string)
	f.touched = make(map[string]bool)
	f.submitting = false
	f.debounceGen++
	if f.debounceTimer != nil {
		f.debounceTimer.Stop()
		f.debounceTimer = nil
	}
	f.mu.Unlock()
}

// Values returns a copy of the current values.
func (f *Form) Values() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyValues(f.values)
}

// Value returns one field value.
func (f *Form) Value(field string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[field]
}

// Errors returns a copy of the current field errors.
func (f *Form) Errors() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.errs))
	for k, v := range f.errs {
		out[k] = v
	}
	return out
}

// FieldError returns one field's error message, empty when valid.
func (f *Form) FieldError(field string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[field]
}

// Touched reports whether a field has been touched.
func (f *Form) Touched(field string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.touched[field]
}

// Submitting reports whether a submission is in flight.
func (f *Form) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

func copyValues(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
