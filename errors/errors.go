// Package errors is vigil's error vocabulary: the cockroachdb/errors
// operations the codebase builds on, plus the sentinels that drive HTTP
// status mapping and CLI exit codes.
//
// Wrapping preserves sentinel identity, so call sites layer context freely:
//
//	if err := client.Status(ctx, jobID); err != nil {
//	    return errors.Wrapf(err, "poll job %s", jobID)
//	}
//
// and boundaries recover the kind regardless of depth:
//
//	if errors.Is(err, errors.ErrRunnerUnavailable) {
//	    // 502 to the dashboard; the poll loop will retry
//	}
//
// Hints carry operator guidance and surface in the CLI; details carry
// machine context and ride along in dashboard error frames.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Building and layering. New, Newf, and WithStack capture a stack trace;
// Wrap and Wrapf add a message layer on top of one. Mark changes what an
// error Is without changing what it says.
var (
	New       = crdb.New
	Newf      = crdb.Newf
	Wrap      = crdb.Wrap
	Wrapf     = crdb.Wrapf
	WithStack = crdb.WithStack
	Mark      = crdb.Mark
)

// Annotations read back by the CLI (hints) and the dashboard (details).
var (
	WithHint    = crdb.WithHint
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Matching and extraction.
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// GetStack returns the reportable stack trace attached to an error, if any.
// Tests use it to pin where a failure was first wrapped.
var GetStack = crdb.GetReportableStackTrace

// Sentinels. Always wrapped, never returned bare, and always checked with
// Is or the helpers below, since wrapping is what call sites do to them.
var (
	// ErrNotFound: a lookup keyed by caller input matched nothing.
	ErrNotFound = New("not found")

	// ErrJobNotFound: the registry holds no record under the given job ID.
	ErrJobNotFound = New("job not found")

	// ErrNoActiveJob: an operation needed a running job and found none.
	ErrNoActiveJob = New("no active job")

	// ErrStartFailed: the runner answered a start request with a refusal.
	ErrStartFailed = New("start failed")

	// ErrCancelFailed: the runner refused or botched a cancel request.
	ErrCancelFailed = New("cancel failed")

	// ErrInvalidRequest: caller input that cannot be acted on.
	ErrInvalidRequest = New("invalid request")

	// ErrRunnerUnavailable: the runner endpoint could not be reached at all,
	// as opposed to reached and refusing.
	ErrRunnerUnavailable = New("runner unavailable")

	// ErrTimeout: an operation gave up waiting.
	ErrTimeout = New("operation timed out")

	// ErrConflict: the operation collides with existing state, like a
	// duplicate key or a second daemon holding the database.
	ErrConflict = New("resource conflict")
)

// IsNotFoundError reports whether err means a missing resource, in either
// the generic or the job-specific flavor.
func IsNotFoundError(err error) bool {
	return err != nil && IsAny(err, ErrNotFound, ErrJobNotFound)
}

// IsInvalidRequestError reports whether err traces back to malformed input.
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsRunnerUnavailableError reports whether the runner could not be reached.
func IsRunnerUnavailableError(err error) bool {
	return err != nil && Is(err, ErrRunnerUnavailable)
}

// WrapNotFound stamps not-found identity onto err and layers context over it.
func WrapNotFound(err error, context string) error {
	return Wrap(Wrap(ErrNotFound, err.Error()), context)
}

// NewJobNotFoundError creates a job-not-found error naming the missing job
func NewJobNotFoundError(jobID string) error {
	return Wrapf(ErrJobNotFound, "job %s", jobID)
}

// NewInvalidRequestError builds a malformed-input error from a format string.
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
