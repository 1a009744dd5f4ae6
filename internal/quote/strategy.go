package quote

import (
	"context"
)

// Strategy is one named way of finding something on a page. Find reports
// ok=false when the strategy did not apply, errors count as a miss.
type Strategy[T any] struct {
	Name string
	Find func(ctx context.Context) (result T, ok bool, err error)
}

// Attempt records how a strategy went, in the order they were tried.
type Attempt struct {
	Name string
	Err  error
}

// FirstMatch tries strategies in order and returns the first hit along with
// the name of the strategy that produced it.
func FirstMatch[T any](ctx context.Context, strategies []Strategy[T]) (result T, name string, attempts []Attempt, ok bool) {
	for _, s := range strategies {
		if ctx.Err() != nil {
			attempts = append(attempts, Attempt{Name: s.Name, Err: ctx.Err()})
			break
		}
		res, hit, err := s.Find(ctx)
		attempts = append(attempts, Attempt{Name: s.Name, Err: err})
		if err == nil && hit {
			return res, s.Name, attempts, true
		}
	}
	var zero T
	return zero, "", attempts, false
}
