package subscription

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

// pool applies events on a fixed set of workers. Events of one repository
// always land on the same worker, so they apply in arrival order.
type pool struct {
	queues []chan *Event
	g      *errgroup.Group
}

func newPool(ctx context.Context, workers, queueSize int, handle func(context.Context, *Event)) *pool {
	g, ctx := errgroup.WithContext(ctx)
	p := &pool{queues: make([]chan *Event, workers), g: g}
	for i := range p.queues {
		q := make(chan *Event, queueSize)
		p.queues[i] = q
		g.Go(func() error {
			for ev := range q {
				handle(ctx, ev)
			}
			return nil
		})
	}
	return p
}

func (p *pool) partition(did string) int {
	return int(xxhash.Sum64String(did) % uint64(len(p.queues)))
}

func (p *pool) dispatch(ctx context.Context, ev *Event) error {
	select {
	case p.queues[p.partition(ev.Repo)] <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops intake. Queued events are still applied.
func (p *pool) close() {
	for _, q := range p.queues {
		close(q)
	}
}

func (p *pool) wait() error {
	return p.g.Wait()
}
