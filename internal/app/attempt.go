package app

import (
	"errors"
	"reflect"

	"github.com/bft-labs/fallbatch/internal/domain"
	"github.com/bft-labs/fallbatch/internal/ports"
)

// attemptOutcome classifies one backend call.
type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeEmpty
	outcomeTimeout
	outcomeHandled
	outcomeUnhandled
)

func (o attemptOutcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeEmpty:
		return "empty-result"
	case outcomeTimeout:
		return "timeout"
	case outcomeHandled:
		return "handled-error"
	default:
		return "unhandled-error"
	}
}

// retryable reports whether the primary may be attempted again.
func (o attemptOutcome) retryable() bool {
	return o == outcomeEmpty || o == outcomeTimeout || o == outcomeHandled
}

// attempt is the transient record of one backend call.
type attempt struct {
	index   int
	tier    ports.Tier
	outcome attemptOutcome
	err     error
}

// classifier decides whether an error is eligible for retry on the primary.
type classifier struct {
	handled []error
}

// classify maps a call's error to an outcome. A nil error with an empty
// value is reported as outcomeEmpty by the caller, not here.
func (c classifier) classify(err error) attemptOutcome {
	if err == nil {
		return outcomeSuccess
	}
	if !c.isHandled(err) {
		return outcomeUnhandled
	}
	if errors.Is(err, domain.ErrAttemptTimeout) {
		return outcomeTimeout
	}
	return outcomeHandled
}

// isHandled treats every error as handled when no allow-list is configured.
func (c classifier) isHandled(err error) bool {
	if len(c.handled) == 0 {
		return true
	}
	for _, h := range c.handled {
		if errors.Is(err, h) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether v is nil or an empty string, slice or map. It is
// the default result validator of the fallback executor.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	case reflect.Slice, reflect.Map, reflect.String:
		return rv.Len() == 0
	default:
		return false
	}
}
