package domain

// Result is one slot of a batch execution. A slot with a non-nil Err is the
// "could not be produced" entry; callers decide how to handle it.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the slot holds a value.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Succeeded counts the slots holding a value.
func Succeeded[T any](results []Result[T]) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}

// Values returns the values of all slots, using zero values for failed ones.
func Values[T any](results []Result[T]) []T {
	out := make([]T, len(results))
	for i, r := range results {
		out[i] = r.Value
	}
	return out
}
