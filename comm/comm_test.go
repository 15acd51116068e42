package comm

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLocalWorld_SendRecv(t *testing.T) {
	ctx := testContext(t)
	w := NewLocalWorld(2)
	t0, t1 := w.Transport(0), w.Transport(1)

	payload := []float64{1, 2, 3}
	require.NoError(t, t0.Send(ctx, 1, 7, payload))

	// The transport copied the payload; the sender may reuse its buffer
	payload[0] = 99

	got, err := t1.Recv(ctx, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got)
	assert.Equal(t, int64(1), w.MessagesSent())
	assert.Equal(t, 0, w.Pending())
}

func TestLocalWorld_TagsDoNotCrossMatch(t *testing.T) {
	ctx := testContext(t)
	w := NewLocalWorld(2)
	t0, t1 := w.Transport(0), w.Transport(1)

	require.NoError(t, t0.Send(ctx, 1, 1, []float64{1}))
	require.NoError(t, t0.Send(ctx, 1, 2, []float64{2}))
	require.NoError(t, t0.Send(ctx, 1, 1, []float64{11}))

	got, err := t1.Recv(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, got)

	// Same (src, tag) is first in, first out
	got, err = t1.Recv(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, got)
	got, err = t1.Recv(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{11}, got)
}

func TestLocalWorld_RecvBlocksUntilSend(t *testing.T) {
	ctx := testContext(t)
	w := NewLocalWorld(2)

	req := Irecv(ctx, w.Transport(0), 1, 5)
	select {
	case <-req.Done():
		t.Fatal("receive completed before any send")
	case <-time.After(50 * time.Millisecond):
	}

	sreq := Isend(ctx, w.Transport(1), 0, 5, []float64{4, 2})
	require.NoError(t, sreq.Wait())
	require.NoError(t, req.Wait())
	assert.Equal(t, []float64{4, 2}, req.Data())
}

func TestLocalWorld_CancelAndClose(t *testing.T) {
	w := NewLocalWorld(2)

	ctx, cancel := context.WithCancel(context.Background())
	req := Irecv(ctx, w.Transport(0), 1, 1)
	cancel()
	assert.ErrorIs(t, req.Wait(), context.Canceled)

	req = Irecv(context.Background(), w.Transport(0), 1, 1)
	require.NoError(t, w.Close())
	assert.ErrorIs(t, req.Wait(), ErrClosed)
	assert.ErrorIs(t, w.Transport(1).Send(context.Background(), 0, 1, nil), ErrClosed)
}

func TestLocalWorld_InvalidRank(t *testing.T) {
	ctx := testContext(t)
	w := NewLocalWorld(2)
	assert.ErrorIs(t, w.Transport(0).Send(ctx, 2, 0, nil), ErrInvalidRank)
	_, err := w.Transport(0).Recv(ctx, -1, 0)
	assert.ErrorIs(t, err, ErrInvalidRank)
	assert.Panics(t, func() { w.Transport(3) })
}

func TestLocalWorld_RunRingExchange(t *testing.T) {
	ctx := testContext(t)
	const n = 4
	w := NewLocalWorld(n)

	var mu sync.Mutex
	received := make(map[int]float64)
	err := w.Run(ctx, func(ctx context.Context, tr Transport) error {
		right := (tr.Rank() + 1) % tr.Size()
		left := (tr.Rank() + tr.Size() - 1) % tr.Size()
		rreq := Irecv(ctx, tr, left, 0)
		if err := tr.Send(ctx, right, 0, []float64{float64(tr.Rank())}); err != nil {
			return err
		}
		if err := rreq.Wait(); err != nil {
			return err
		}
		mu.Lock()
		received[tr.Rank()] = rreq.Data()[0]
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{0: 3, 1: 0, 2: 1, 3: 2}, received)
}

func TestLocalWorld_RunPropagatesFailure(t *testing.T) {
	ctx := testContext(t)
	w := NewLocalWorld(2)
	boom := errors.New("boom")

	err := w.Run(ctx, func(ctx context.Context, tr Transport) error {
		if tr.Rank() == 1 {
			return boom
		}
		// Rank 0 would wait forever; the failure of rank 1 cancels it
		_, err := tr.Recv(ctx, 1, 0)
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestWaitAll_ReportsFirstError(t *testing.T) {
	w := NewLocalWorld(2)
	ctx, cancel := context.WithCancel(context.Background())
	reqs := []*Request{
		Irecv(ctx, w.Transport(0), 1, 1),
		Irecv(ctx, w.Transport(0), 1, 2),
	}
	cancel()
	err := WaitAll(reqs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "peer 1 tag 1")
}

func TestNetTransport_Loopback(t *testing.T) {
	ctx := testContext(t)
	const n = 3

	transports := make([]*NetTransport, n)
	addrs := make([]string, n)
	for r := 0; r < n; r++ {
		tr, err := ListenNet(r, n, "127.0.0.1:0")
		require.NoError(t, err)
		transports[r] = tr
		addrs[r] = tr.Addr()
	}
	defer func() {
		for _, tr := range transports {
			assert.NoError(t, tr.Close())
		}
	}()
	for _, tr := range transports {
		require.NoError(t, tr.Connect(ctx, addrs))
	}

	// Every rank sends its rank id to every rank, itself included
	var wg sync.WaitGroup
	results := make([][]float64, n)
	errs := make([]error, n)
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(tr *NetTransport) {
			defer wg.Done()
			var reqs []*Request
			for src := 0; src < n; src++ {
				reqs = append(reqs, Irecv(ctx, tr, src, 42))
			}
			for dest := 0; dest < n; dest++ {
				if err := tr.Send(ctx, dest, 42, []float64{float64(tr.Rank()), 0.5}); err != nil {
					errs[tr.Rank()] = err
					return
				}
			}
			if err := WaitAll(reqs); err != nil {
				errs[tr.Rank()] = err
				return
			}
			for _, rq := range reqs {
				results[tr.Rank()] = append(results[tr.Rank()], rq.Data()[0])
				assert.Equal(t, 0.5, rq.Data()[1])
			}
		}(transports[r])
	}
	wg.Wait()

	for r := 0; r < n; r++ {
		require.NoError(t, errs[r], "rank %d", r)
		assert.Equal(t, []float64{0, 1, 2}, results[r], "rank %d", r)
	}
}

func TestNetTransport_CloseUnblocksRecv(t *testing.T) {
	tr, err := ListenNet(0, 2, "127.0.0.1:0")
	require.NoError(t, err)

	req := Irecv(context.Background(), tr, 1, 0)
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, req.Wait(), ErrClosed)

	// Unconnected peer
	assert.Error(t, tr.Send(context.Background(), 1, 0, []float64{1}))
}

func TestNetTransport_CancelUnblocksSend(t *testing.T) {
	// A peer that accepts but never reads lets the socket buffers fill
	stalled, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer stalled.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := stalled.Accept(); err == nil {
			accepted <- conn
		}
	}()
	defer func() {
		select {
		case conn := <-accepted:
			conn.Close()
		case <-time.After(time.Second):
		}
	}()

	tr, err := ListenNet(0, 2, "127.0.0.1:0")
	require.NoError(t, err)
	defer tr.Close()
	require.NoError(t, tr.Connect(testContext(t), []string{tr.Addr(), stalled.Addr().String()}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	err = tr.Send(ctx, 1, 0, make([]float64, 8<<20))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The stream is unusable after a partial frame
	assert.Error(t, tr.Send(context.Background(), 1, 1, []float64{1}))
}
