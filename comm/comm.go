// Package comm provides the point-to-point message transport used by halo
// exchanges. Messages are flat []float64 payloads addressed by
// (source, destination, tag); the transport adds no schema of its own.
//
// All Transport calls block. Non-blocking sends and receives are built on
// goroutines with Isend and Irecv, whose Requests are completed with Wait.
package comm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed transport
	ErrClosed = errors.New("transport closed")
	// ErrInvalidRank is returned when a peer rank is outside [0, Size())
	ErrInvalidRank = errors.New("invalid rank")
)

// Transport moves float64 payloads between ranks of a fixed-size group.
type Transport interface {
	// Rank returns this process's rank, 0 <= Rank() < Size()
	Rank() int
	// Size returns the number of ranks in the group
	Size() int
	// Send blocks until the transport has accepted data. The caller may
	// reuse data once Send returns.
	Send(ctx context.Context, dest, tag int, data []float64) error
	// Recv blocks until a message from src with tag arrives
	Recv(ctx context.Context, src, tag int) ([]float64, error)
}

func checkRank(t Transport, r int) error {
	if r < 0 || r >= t.Size() {
		return fmt.Errorf("rank %d outside [0,%d): %w", r, t.Size(), ErrInvalidRank)
	}
	return nil
}

// Request tracks one non-blocking send or receive
type Request struct {
	Peer int
	Tag  int

	done chan struct{}
	data []float64
	err  error
}

// Isend starts Send on its own goroutine. data must stay untouched until
// the returned Request completes.
func Isend(ctx context.Context, t Transport, dest, tag int, data []float64) *Request {
	r := &Request{Peer: dest, Tag: tag, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.err = t.Send(ctx, dest, tag, data)
	}()
	return r
}

// Irecv posts a receive that completes when a matching message arrives
func Irecv(ctx context.Context, t Transport, src, tag int) *Request {
	r := &Request{Peer: src, Tag: tag, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.data, r.err = t.Recv(ctx, src, tag)
	}()
	return r
}

// Wait blocks until the request completes and returns its error
func (r *Request) Wait() error {
	<-r.done
	return r.err
}

// Done is closed when the request completes
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Data returns the received payload. Valid after Wait for receives.
func (r *Request) Data() []float64 {
	return r.data
}

// WaitAll waits for every request and returns the first error in request order
func WaitAll(reqs []*Request) error {
	var first error
	for _, r := range reqs {
		if err := r.Wait(); err != nil && first == nil {
			first = fmt.Errorf("peer %d tag %d: %w", r.Peer, r.Tag, err)
		}
	}
	return first
}
