// Package fault defines the two fatal fault classes raised while lowering:
// coverage gaps (a construct the engine does not implement yet) and
// invariant violations (an internal logic error).
//
// Both are raised as panics so that deeply nested lowering code does not
// have to thread an error through every return. The compile boundary
// recovers them with Catch.
package fault

import (
	"github.com/cockroachdb/errors"
)

// Unimplemented panics with a coverage-gap error naming the unsupported
// construct.
func Unimplemented(format string, args ...any) {
	panic(errors.UnimplementedErrorf(errors.IssueLink{}, format, args...))
}

// Invariant panics with an assertion-failure error.
func Invariant(format string, args ...any) {
	panic(errors.AssertionFailedf(format, args...))
}

// Check panics with an invariant violation when cond is false.
func Check(cond bool, format string, args ...any) {
	if !cond {
		panic(errors.AssertionFailedf(format, args...))
	}
}

// IsCoverageGap reports whether err carries a coverage-gap fault.
func IsCoverageGap(err error) bool {
	return errors.HasUnimplementedError(err)
}

// IsInvariant reports whether err carries an invariant violation.
func IsInvariant(err error) bool {
	return errors.HasAssertionFailure(err)
}

// Catch converts a fault panic into *errp. It must be deferred directly.
// Panics that are not errors are treated as invariant violations so that a
// stray runtime panic still aborts only the current compilation.
func Catch(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	switch v := r.(type) {
	case error:
		if IsCoverageGap(v) || IsInvariant(v) {
			*errp = v
			return
		}
		*errp = errors.NewAssertionErrorWithWrappedErrf(v, "internal error")
	default:
		*errp = errors.AssertionFailedf("internal error: %v", v)
	}
}
