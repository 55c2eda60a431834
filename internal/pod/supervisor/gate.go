package supervisor

import (
	"context"

	"github.com/jackc/puddle/v2"
)

// spawnGate bounds the number of pods loading at once. Each loading pod
// holds one token from a fixed size pool until it is ready or gone.
type spawnGate struct {
	pool *puddle.Pool[struct{}]
}

// newSpawnGate returns nil for an unbounded gate.
func newSpawnGate(max int) (*spawnGate, error) {
	if max <= 0 {
		return nil, nil
	}

	pool, err := puddle.NewPool(&puddle.Config[struct{}]{
		Constructor: func(context.Context) (struct{}, error) {
			return struct{}{}, nil
		},
		Destructor: func(struct{}) {},
		MaxSize:    int32(max),
	})
	if err != nil {
		return nil, err
	}

	return &spawnGate{pool: pool}, nil
}

// acquire blocks until a token is available or ctx is done.
func (g *spawnGate) acquire(ctx context.Context) (func(), error) {
	if g == nil {
		return func() {}, nil
	}

	res, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	return res.Release, nil
}

// loading returns the number of tokens currently held.
func (g *spawnGate) loading() int {
	if g == nil {
		return 0
	}

	return int(g.pool.Stat().AcquiredResources())
}

func (g *spawnGate) close() {
	if g != nil {
		g.pool.Close()
	}
}
