package comm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// frame is the unit written on a connection. The envelope carries only the
// addressing; Data is the positional payload.
type frame struct {
	Src  int       `msgpack:"src"`
	Tag  int       `msgpack:"tag"`
	Data []float64 `msgpack:"data"`
}

// peerConn is the outbound half of the link to one peer
type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
	enc  *msgpack.Encoder
}

// NetTransport connects the ranks of a group over TCP. Every rank listens
// for inbound connections and dials one outbound connection to each peer;
// a reader goroutine per inbound connection decodes msgpack frames into the
// rank's mailbox.
type NetTransport struct {
	rank int
	size int

	ln    net.Listener
	box   *mailbox
	peers []*peerConn

	mu      sync.Mutex
	inbound []net.Conn
	closed  bool
	wg      sync.WaitGroup
}

// ListenNet binds rank's listener on addr and starts accepting peers.
// Use "127.0.0.1:0" for an ephemeral port and read it back with Addr.
func ListenNet(rank, size int, addr string) (*NetTransport, error) {
	if size <= 0 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d of %d: %w", rank, size, ErrInvalidRank)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rank %d: listen on %s: %w", rank, addr, err)
	}
	t := &NetTransport{
		rank:  rank,
		size:  size,
		ln:    ln,
		box:   newMailbox(),
		peers: make([]*peerConn, size),
	}
	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

// NewNetTransport listens on addrs[rank] and connects to every other address
func NewNetTransport(ctx context.Context, rank int, addrs []string) (*NetTransport, error) {
	t, err := ListenNet(rank, len(addrs), addrs[rank])
	if err != nil {
		return nil, err
	}
	if err := t.Connect(ctx, addrs); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// Addr returns the listener address
func (t *NetTransport) Addr() string {
	return t.ln.Addr().String()
}

// Connect dials every peer in addrs, retrying until ctx expires so ranks
// may start in any order
func (t *NetTransport) Connect(ctx context.Context, addrs []string) error {
	if len(addrs) != t.size {
		return fmt.Errorf("rank %d: got %d addresses for %d ranks", t.rank, len(addrs), t.size)
	}
	var d net.Dialer
	for peer, addr := range addrs {
		if peer == t.rank {
			continue
		}
		var conn net.Conn
		var err error
		for {
			conn, err = d.DialContext(ctx, "tcp", addr)
			if err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("rank %d: dial peer %d at %s: %w", t.rank, peer, addr, err)
			case <-time.After(20 * time.Millisecond):
			}
		}
		w := bufio.NewWriter(conn)
		t.peers[peer] = &peerConn{conn: conn, w: w, enc: msgpack.NewEncoder(w)}
	}
	return nil
}

func (t *NetTransport) Rank() int { return t.rank }

func (t *NetTransport) Size() int { return t.size }

// Send encodes one frame and flushes it to the peer's connection. Messages
// to self bypass the network.
func (t *NetTransport) Send(ctx context.Context, dest, tag int, data []float64) error {
	if err := checkRank(t, dest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if dest == t.rank {
		msg := make([]float64, len(data))
		copy(msg, data)
		return t.box.put(t.rank, tag, msg)
	}

	p := t.peers[dest]
	if p == nil {
		return fmt.Errorf("rank %d: no connection to peer %d: %w", t.rank, dest, ErrClosed)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	// The zero deadline clears one left by an earlier send
	deadline, _ := ctx.Deadline()
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("rank %d: set write deadline for peer %d: %w", t.rank, dest, err)
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		p.conn.SetWriteDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	err := p.enc.Encode(&frame{Src: t.rank, Tag: tag, Data: data})
	if err == nil {
		err = p.w.Flush()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// A partly written frame leaves the stream unreadable
			p.conn.Close()
			return fmt.Errorf("rank %d: send to peer %d: %w", t.rank, dest, ctxErr)
		}
		return fmt.Errorf("rank %d: send to peer %d: %w", t.rank, dest, err)
	}
	return nil
}

func (t *NetTransport) Recv(ctx context.Context, src, tag int) ([]float64, error) {
	if err := checkRank(t, src); err != nil {
		return nil, err
	}
	return t.box.take(ctx, src, tag)
}

func (t *NetTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return
		}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return
		}
		t.inbound = append(t.inbound, conn)
		t.wg.Add(1)
		t.mu.Unlock()
		go t.readLoop(conn)
	}
}

func (t *NetTransport) readLoop(conn net.Conn) {
	defer t.wg.Done()
	dec := msgpack.NewDecoder(bufio.NewReader(conn))
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				t.box.close()
			}
			return
		}
		if f.Src < 0 || f.Src >= t.size {
			t.box.close()
			return
		}
		if err := t.box.put(f.Src, f.Tag, f.Data); err != nil {
			return
		}
	}
}

// Close shuts the listener and every connection; blocked receives fail
// with ErrClosed
func (t *NetTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	inbound := t.inbound
	t.mu.Unlock()

	err := t.ln.Close()
	for _, p := range t.peers {
		if p != nil {
			p.conn.Close()
		}
	}
	for _, c := range inbound {
		c.Close()
	}
	t.box.close()
	t.wg.Wait()
	return err
}
