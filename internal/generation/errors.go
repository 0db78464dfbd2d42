package generation

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/makeasinger/orchestrator/internal/model"
)

// Error kinds, stable strings used in snapshots and API responses
const (
	KindValidation     = "validation"
	KindDispatch       = "dispatch"
	KindTransientPoll  = "transient_poll"
	KindBackendFailure = "backend_failure"
	KindTimeout        = "timeout"
	KindNormalization  = "normalization"
	KindCancellation   = "cancellation"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobNotComplete = errors.New("job not completed")
	ErrNoBackends     = errors.New("no backends registered")
)

// Kinded is implemented by every typed error of this package.
type Kinded interface {
	error
	Kind() string
	Retryable() bool
}

// ValidationError reports a malformed request. Never retried.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid generation request"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, name := range sortedKeys(e.Fields) {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid generation request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Kind() string    { return KindValidation }
func (e *ValidationError) Retryable() bool { return false }

// BackendAttemptError is one backend's refusal during dispatch
type BackendAttemptError struct {
	Backend string
	Skipped bool // unhealthy, submit not attempted
	Err     error
}

func (e *BackendAttemptError) Error() string {
	if e.Skipped {
		return fmt.Sprintf("%s: skipped (unhealthy)", e.Backend)
	}
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *BackendAttemptError) Unwrap() error { return e.Err }

// DispatchError aggregates every backend failure when no backend accepted a job
type DispatchError struct {
	Attempts []*BackendAttemptError
}

func (e *DispatchError) Error() string {
	if len(e.Attempts) == 0 {
		return "could not start generation: " + ErrNoBackends.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return "could not start generation: " + strings.Join(parts, "; ")
}

func (e *DispatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a)
	}
	return errs
}

func (e *DispatchError) Kind() string    { return KindDispatch }
func (e *DispatchError) Retryable() bool { return true }

// TransientPollError is a failed attempt to reach the backend during a tick.
// Consecutive is the number of back-to-back failures including this one.
type TransientPollError struct {
	Backend     string
	Consecutive int
	Err         error
}

func (e *TransientPollError) Error() string {
	return fmt.Sprintf("lost contact with %s after %d consecutive poll failures: %v", e.Backend, e.Consecutive, e.Err)
}

func (e *TransientPollError) Unwrap() error   { return e.Err }
func (e *TransientPollError) Kind() string    { return KindTransientPoll }
func (e *TransientPollError) Retryable() bool { return true }

// BackendFailure means the backend explicitly reported the job failed
type BackendFailure struct {
	Backend string
	Reason  string
}

func (e *BackendFailure) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s reported generation failed", e.Backend)
	}
	return fmt.Sprintf("%s reported generation failed: %s", e.Backend, e.Reason)
}

func (e *BackendFailure) Kind() string    { return KindBackendFailure }
func (e *BackendFailure) Retryable() bool { return false }

// TimeoutExceeded means the tick budget ran out without a terminal status
type TimeoutExceeded struct {
	Ticks int
}

func (e *TimeoutExceeded) Error() string {
	return fmt.Sprintf("generation is taking too long (no result after %d status checks)", e.Ticks)
}

func (e *TimeoutExceeded) Kind() string    { return KindTimeout }
func (e *TimeoutExceeded) Retryable() bool { return true }

// NormalizationError means a success payload could not be mapped to any track
type NormalizationError struct {
	Backend string
	Reason  string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("could not read result from %s: %s", e.Backend, e.Reason)
}

func (e *NormalizationError) Kind() string    { return KindNormalization }
func (e *NormalizationError) Retryable() bool { return false }

// CancellationError is a failed best-effort cancel notification. Logged only.
type CancellationError struct {
	Backend string
	JobID   string
	Err     error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancel notification to %s for job %s failed: %v", e.Backend, e.JobID, e.Err)
}

func (e *CancellationError) Unwrap() error   { return e.Err }
func (e *CancellationError) Kind() string    { return KindCancellation }
func (e *CancellationError) Retryable() bool { return true }

// ToJobError converts a terminal cause into its serializable form.
func ToJobError(err error) *model.JobError {
	if err == nil {
		return nil
	}
	var k Kinded
	if errors.As(err, &k) {
		return &model.JobError{Kind: k.Kind(), Message: k.Error()}
	}
	return &model.JobError{Kind: "unknown", Message: err.Error()}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
