package deployment

import (
	"context"

	"github.com/smelter-dev/smelter/internal/config"
	"golang.org/x/sync/errgroup"
)

// Step deploys or skips a single spec
type Step func(ctx context.Context, spec config.ContractSpec) error

// Scheduler decides the order and concurrency in which steps run. Either
// way a spec only runs after every spec it references has finished.
type Scheduler interface {
	Run(ctx context.Context, specs []config.ContractSpec, step Step) error
}

// SequentialScheduler runs one spec at a time in resolved order
type SequentialScheduler struct{}

func (SequentialScheduler) Run(ctx context.Context, specs []config.ContractSpec, step Step) error {
	ordered, err := Resolve(specs)
	if err != nil {
		return err
	}

	for _, spec := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// ParallelScheduler runs each dependency level concurrently. A failure
// cancels the rest of its level and no later level starts.
type ParallelScheduler struct {
	// MaxConcurrency bounds steps in flight per level, 0 means unbounded
	MaxConcurrency int
}

func (p ParallelScheduler) Run(ctx context.Context, specs []config.ContractSpec, step Step) error {
	levels, err := Levels(specs)
	if err != nil {
		return err
	}

	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		if p.MaxConcurrency > 0 {
			g.SetLimit(p.MaxConcurrency)
		}
		for _, spec := range level {
			g.Go(func() error {
				return step(gctx, spec)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
