package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/notargets/BoxHalo/comm"
	"github.com/notargets/BoxHalo/fab"
)

// Engine executes patterns against distributed arrays over a transport.
// One goroutine per rank drives Execute; the engine itself fans local work
// out to Config.Workers goroutines.
type Engine struct {
	transport comm.Transport
	cfg       Config
	logger    *slog.Logger

	seq atomic.Int64

	exchanges  atomic.Int64
	messages   atomic.Int64
	valuesSent atomic.Int64
	localCells atomic.Int64
}

// EngineStats are running totals since the engine was created
type EngineStats struct {
	Exchanges    int64
	MessagesSent int64
	ValuesSent   int64
	LocalCells   int64
}

// NewEngine returns an engine sending over t
func NewEngine(t comm.Transport, cfg Config, logger *slog.Logger) *Engine {
	if t == nil {
		panic("NewEngine: transport cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{transport: t, cfg: cfg.withDefaults(), logger: logger}
}

// NextSeqNum returns the next exchange sequence number. Every rank calls it
// once per exchange in the same order, so the numbers agree across ranks and
// serve as message tags.
func (e *Engine) NextSeqNum() int {
	return int(e.seq.Add(1) - 1)
}

// Stats returns the running totals
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Exchanges:    e.exchanges.Load(),
		MessagesSent: e.messages.Load(),
		ValuesSent:   e.valuesSent.Load(),
		LocalCells:   e.localCells.Load(),
	}
}

// Execute moves components [scomp, scomp+ncomp) of mf as described by p.
// It consumes one sequence number whether or not there is work to do.
//
// Contract violations (an array that does not match the pattern, a bad
// component range) panic. Transport failures and malformed messages are
// returned wrapped in ErrTransport and leave mf partially updated.
func (e *Engine) Execute(ctx context.Context, p *Pattern, mf *fab.MultiFab, scomp, ncomp int) error {
	e.checkContract(p, mf, scomp, ncomp)
	seq := e.NextSeqNum()
	e.exchanges.Add(1)

	if p.Empty() {
		return nil
	}
	if e.transport.Size() == 1 {
		return e.applyLocal(ctx, p, mf, scomp, ncomp)
	}
	return e.exchange(ctx, p, mf, scomp, ncomp, seq)
}

func (e *Engine) checkContract(p *Pattern, mf *fab.MultiFab, scomp, ncomp int) {
	if p == nil || mf == nil {
		panic("Execute: pattern and array cannot be nil")
	}
	if p.Rank != e.transport.Rank() || mf.Rank() != p.Rank {
		panic(fmt.Sprintf("Execute: pattern rank %d, array rank %d, transport rank %d",
			p.Rank, mf.Rank(), e.transport.Rank()))
	}
	if p.Key.DistributionMap.NProcs() != e.transport.Size() {
		panic(fmt.Sprintf("Execute: pattern built for %d ranks, transport has %d",
			p.Key.DistributionMap.NProcs(), e.transport.Size()))
	}
	if !mf.BoxArray().Equal(p.Key.BoxArray) || !mf.DistributionMap().Equal(p.Key.DistributionMap) {
		panic("Execute: array partition or ownership differs from the pattern's")
	}
	if mf.NGrow() != p.Key.NGrow {
		panic(fmt.Sprintf("Execute: array halo %v, pattern halo %v", mf.NGrow(), p.Key.NGrow))
	}
	if scomp < 0 || ncomp <= 0 || scomp+ncomp > mf.NComp() {
		panic(fmt.Sprintf("Execute: components [%d,%d) outside [0,%d)", scomp, scomp+ncomp, mf.NComp()))
	}
}

// applyLocal performs the local tags, concurrently when no two of them
// write the same cell, otherwise in list order
func (e *Engine) applyLocal(ctx context.Context, p *Pattern, mf *fab.MultiFab, scomp, ncomp int) error {
	tags := p.LocTags
	if len(tags) == 0 {
		return nil
	}
	e.localCells.Add(int64(volume(tags)))

	apply := func(t Tag) {
		dst, src := mf.Fab(t.DstIndex), mf.Fab(t.SrcIndex)
		if p.Key.Kind.accumulates() {
			dst.Plus(src, t.SrcBox, scomp, t.DstBox, scomp, ncomp)
		} else {
			dst.Copy(src, t.SrcBox, scomp, t.DstBox, scomp, ncomp)
		}
	}

	if !p.ThreadSafeLoc || e.cfg.Workers == 1 || len(tags) == 1 {
		for _, t := range tags {
			apply(t)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, chunk := range chunkTags(tags, e.cfg.Workers) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, t := range chunk {
				apply(t)
			}
			return nil
		})
	}
	return g.Wait()
}

// chunkTags splits tags into at most n runs of similar length
func chunkTags(tags []Tag, n int) [][]Tag {
	if n > len(tags) {
		n = len(tags)
	}
	chunks := make([][]Tag, 0, n)
	size := (len(tags) + n - 1) / n
	for start := 0; start < len(tags); start += size {
		end := min(start+size, len(tags))
		chunks = append(chunks, tags[start:end])
	}
	return chunks
}

func (e *Engine) exchange(ctx context.Context, p *Pattern, mf *fab.MultiFab, scomp, ncomp, seq int) error {
	hdr := 0
	if e.cfg.Validate {
		hdr = headerLen
	}

	var (
		sendBufs []*[]float64
		sendReqs []*comm.Request
	)
	// Runs after cancel below, so in-flight sends see a dead context
	// before their buffers go back to the pool
	defer func() {
		for _, r := range sendReqs {
			r.Wait()
		}
		for _, bp := range sendBufs {
			putBuffer(bp)
		}
	}()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Post receives first so peers never wait on an unposted receive
	recvReqs := make([]*comm.Request, len(p.RcvRanks))
	for k, r := range p.RcvRanks {
		recvReqs[k] = comm.Irecv(ctx, e.transport, r, seq)
	}

	// Pack one message per destination rank
	sendBufs = make([]*[]float64, len(p.SndRanks))
	for k, r := range p.SndRanks {
		sendBufs[k] = getBuffer(hdr + p.SndVols[r]*ncomp)
	}
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for k, r := range p.SndRanks {
		msg := *sendBufs[k]
		g.Go(func() error {
			return e.pack(p.SndTags[r], mf, scomp, ncomp, msg, hdr)
		})
	}
	if err := g.Wait(); err != nil {
		return e.fail(seq, -1, "pack", err)
	}

	for k, r := range p.SndRanks {
		msg := *sendBufs[k]
		e.messages.Add(1)
		e.valuesSent.Add(int64(len(msg)))
		if e.cfg.AsyncSends() {
			sendReqs = append(sendReqs, comm.Isend(ctx, e.transport, r, seq, msg))
			continue
		}
		if err := e.transport.Send(ctx, r, seq, msg); err != nil {
			return e.fail(seq, r, "send", err)
		}
	}

	// Local copies overlap with messages in flight
	if err := e.applyLocal(ctx, p, mf, scomp, ncomp); err != nil {
		return e.fail(seq, p.Rank, "local copy", err)
	}

	recv := func(k int) error {
		r := p.RcvRanks[k]
		if err := recvReqs[k].Wait(); err != nil {
			cancel()
			return e.fail(seq, r, "receive", err)
		}
		if err := e.unpack(p, r, mf, scomp, ncomp, recvReqs[k].Data()); err != nil {
			cancel()
			return e.fail(seq, r, "unpack", err)
		}
		return nil
	}
	if p.ThreadSafeRcv && e.cfg.Workers > 1 {
		rg := new(errgroup.Group)
		rg.SetLimit(e.cfg.Workers)
		for k := range p.RcvRanks {
			rg.Go(func() error { return recv(k) })
		}
		if err := rg.Wait(); err != nil {
			return err
		}
	} else {
		for k := range p.RcvRanks {
			if err := recv(k); err != nil {
				return err
			}
		}
	}

	for _, r := range sendReqs {
		if err := r.Wait(); err != nil {
			return e.fail(seq, r.Peer, "send", err)
		}
	}
	return nil
}

// pack copies every tag's source region into msg after hdr header values
func (e *Engine) pack(tags []Tag, mf *fab.MultiFab, scomp, ncomp int, msg []float64, hdr int) error {
	buf := newMessageBuffer(msg[hdr:])
	for _, t := range tags {
		region, err := buf.Next(t.NumPts() * ncomp)
		if err != nil {
			return err
		}
		mf.Fab(t.SrcIndex).CopyToMem(t.SrcBox, scomp, ncomp, region)
	}
	if buf.Remaining() != 0 {
		return fmt.Errorf("%w: %d values left after packing", ErrSizeMismatch, buf.Remaining())
	}
	if hdr > 0 {
		return sealMessage(msg)
	}
	return nil
}

// unpack scatters the message from src into the halos it fills, in the
// same tag order the sender packed
func (e *Engine) unpack(p *Pattern, src int, mf *fab.MultiFab, scomp, ncomp int, data []float64) error {
	want := p.RcvVols[src] * ncomp
	payload := data
	if e.cfg.Validate {
		var err error
		if payload, err = openMessage(data, want); err != nil {
			return err
		}
	} else if len(data) != want {
		return fmt.Errorf("%w: got %d values, expected %d", ErrSizeMismatch, len(data), want)
	}

	buf := newMessageBuffer(payload)
	for _, t := range p.RcvTags[src] {
		region, err := buf.Next(t.NumPts() * ncomp)
		if err != nil {
			return err
		}
		dst := mf.Fab(t.DstIndex)
		if p.Key.Kind.accumulates() {
			dst.PlusFromMem(t.DstBox, scomp, ncomp, region)
		} else {
			dst.CopyFromMem(t.DstBox, scomp, ncomp, region)
		}
	}
	return nil
}

func (e *Engine) fail(seq, peer int, op string, err error) error {
	e.logger.Error("halo exchange failed",
		"rank", e.transport.Rank(),
		"seq", seq,
		"peer", peer,
		"op", op,
		"error", err)
	return fmt.Errorf("%w: rank %d seq %d %s peer %d: %w", ErrTransport, e.transport.Rank(), seq, op, peer, err)
}
