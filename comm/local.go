package comm

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// World is an in-process group of ranks that exchange messages through
// shared mailboxes. Each rank is driven by its own goroutine.
type World struct {
	boxes  []*mailbox
	closed atomic.Bool
	sent   atomic.Int64
}

// NewLocalWorld creates a world of n ranks
func NewLocalWorld(n int) *World {
	if n <= 0 {
		panic(fmt.Sprintf("NewLocalWorld: invalid size %d", n))
	}
	w := &World{boxes: make([]*mailbox, n)}
	for i := range w.boxes {
		w.boxes[i] = newMailbox()
	}
	return w
}

// Size returns the number of ranks
func (w *World) Size() int { return len(w.boxes) }

// Transport returns the endpoint of rank r
func (w *World) Transport(r int) *LocalTransport {
	if r < 0 || r >= len(w.boxes) {
		panic(fmt.Sprintf("World.Transport: rank %d outside [0,%d)", r, len(w.boxes)))
	}
	return &LocalTransport{world: w, rank: r}
}

// Run drives fn once per rank, each on its own goroutine, and returns the
// first error. The context passed to fn is cancelled when any rank fails so
// blocked receives on the other ranks return.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, t Transport) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for r := range w.boxes {
		t := w.Transport(r)
		g.Go(func() error {
			if err := fn(gctx, t); err != nil {
				return fmt.Errorf("rank %d: %w", t.rank, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// MessagesSent returns the number of messages accepted so far
func (w *World) MessagesSent() int64 { return w.sent.Load() }

// Pending returns the number of delivered messages nobody has received yet
func (w *World) Pending() int {
	n := 0
	for _, b := range w.boxes {
		n += b.pending()
	}
	return n
}

// Close fails every blocked and future operation with ErrClosed
func (w *World) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	for _, b := range w.boxes {
		b.close()
	}
	return nil
}

// LocalTransport is one rank's view of a World
type LocalTransport struct {
	world *World
	rank  int
}

func (t *LocalTransport) Rank() int { return t.rank }

func (t *LocalTransport) Size() int { return len(t.world.boxes) }

// Send copies data into the destination mailbox
func (t *LocalTransport) Send(ctx context.Context, dest, tag int, data []float64) error {
	if err := checkRank(t, dest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := make([]float64, len(data))
	copy(msg, data)
	if err := t.world.boxes[dest].put(t.rank, tag, msg); err != nil {
		return err
	}
	t.world.sent.Add(1)
	return nil
}

func (t *LocalTransport) Recv(ctx context.Context, src, tag int) ([]float64, error) {
	if err := checkRank(t, src); err != nil {
		return nil, err
	}
	return t.world.boxes[t.rank].take(ctx, src, tag)
}
