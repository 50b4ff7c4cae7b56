package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bft-labs/fallbatch/internal/domain"
)

// handledErrorNames maps config names to the errors they make retryable.
var handledErrorNames = map[string]error{
	"timeout":      domain.ErrAttemptTimeout,
	"empty_result": domain.ErrEmptyResult,
	"transport":    domain.ErrTransport,
	"status":       domain.ErrStatus,
	"downstream":   domain.ErrDownstream,
}

// HandledErrorNames lists the accepted handled-errors names, sorted.
func HandledErrorNames() []string {
	names := make([]string, 0, len(handledErrorNames))
	for n := range handledErrorNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ResolveHandledErrors converts names into the executor's allow-list. An
// empty list resolves to nil, which retries every error.
func ResolveHandledErrors(names []string) ([]error, error) {
	if len(names) == 0 {
		return nil, nil
	}
	errs := make([]error, 0, len(names))
	for _, n := range names {
		e, ok := handledErrorNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown handled error %q (want one of %s)", n, strings.Join(HandledErrorNames(), ", "))
		}
		errs = append(errs, e)
	}
	return errs, nil
}
