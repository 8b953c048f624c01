package sampler

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/drift/internal/score"
	"github.com/samcharles93/drift/internal/tensor"
)

// Many executes runs independent sampling runs concurrently, at most
// GOMAXPROCS at a time, and returns their final states in order. Run i uses
// cfg.Seed+i, so the result set is reproducible and each run stays
// internally deterministic. The adapter is shared across goroutines and must
// be reentrant; the sampler itself keeps no state between runs. The first
// failing run cancels the rest.
func Many(ctx context.Context, a score.Adapter, cfg Config, runs int) ([]*tensor.Tensor, error) {
	if runs < 1 {
		runs = 1
	}
	out := make([]*tensor.Tensor, runs)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < runs; i++ {
		c := cfg
		c.Seed = cfg.Seed + int64(i)
		g.Go(func() error {
			final, err := Final(ctx, a, c)
			if err != nil {
				return err
			}
			out[i] = final
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
