package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Clock returns the current time. Services default to the wall clock; tests
// pin it.
type Clock func() time.Time

func wallClock() time.Time { return time.Now().UTC() }

// defaultParallelUnits bounds every content fan-out.
const defaultParallelUnits = 8

// unitOutcome is what one fan-out unit contributed. A failed unit reports
// Err and zero counts; it never reaches the errgroup.
type unitOutcome struct {
	Posts    int
	Articles int
	Events   int
	Err      error
}

// settleAll runs units with at most limit in flight and returns every
// outcome, in unit order. One unit's failure never cancels another, and a
// panicking unit is reported as an error outcome.
func settleAll(ctx context.Context, limit int, units []func(context.Context) unitOutcome) []unitOutcome {
	if limit <= 0 {
		limit = defaultParallelUnits
	}
	out := make([]unitOutcome, len(units))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, u := range units {
		g.Go(func() error {
			out[i] = runUnit(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func runUnit(ctx context.Context, u func(context.Context) unitOutcome) (out unitOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = unitOutcome{Err: fmt.Errorf("service: unit panicked: %v", r)}
		}
	}()
	return u(ctx)
}
