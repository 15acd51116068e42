package exchange

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"sync"

	"fortio.org/safecast"
)

// headerLen is the number of leading values a validated message carries:
// the payload length and a CRC-32 of the payload bits
const headerLen = 2

// MessageBuffer hands out consecutive regions of one aggregated message,
// one per tag, so a peer's tags are packed back to back in list order.
type MessageBuffer struct {
	data []float64
	off  int
}

func newMessageBuffer(data []float64) *MessageBuffer {
	return &MessageBuffer{data: data}
}

// Next returns the next n values of the buffer
func (b *MessageBuffer) Next(n int) ([]float64, error) {
	if n < 0 || b.off+n > len(b.data) {
		return nil, fmt.Errorf("%w: region of %d values at offset %d overruns buffer of %d",
			ErrSizeMismatch, n, b.off, len(b.data))
	}
	s := b.data[b.off : b.off+n]
	b.off += n
	return s, nil
}

// Remaining returns the number of values not yet handed out
func (b *MessageBuffer) Remaining() int {
	return len(b.data) - b.off
}

var bufferPool = sync.Pool{
	New: func() any { return new([]float64) },
}

// getBuffer returns a pooled slice of length n
func getBuffer(n int) *[]float64 {
	bp := bufferPool.Get().(*[]float64)
	if cap(*bp) < n {
		*bp = make([]float64, n)
	}
	*bp = (*bp)[:n]
	return bp
}

func putBuffer(bp *[]float64) {
	if bp == nil {
		return
	}
	bufferPool.Put(bp)
}

func checksum(payload []float64) uint32 {
	h := crc32.NewIEEE()
	var buf [8]byte
	for _, v := range payload {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return h.Sum32()
}

// sealMessage writes the validation header in front of payload, which must start
// at msg[headerLen]
func sealMessage(msg []float64) error {
	payload := msg[headerLen:]
	n, err := safecast.Conv[uint32](len(payload))
	if err != nil {
		return fmt.Errorf("%w: payload of %d values: %w", ErrSizeMismatch, len(payload), err)
	}
	msg[0] = float64(n)
	msg[1] = float64(checksum(payload))
	return nil
}

// openMessage checks the validation header of msg and returns the payload
func openMessage(msg []float64, want int) ([]float64, error) {
	if len(msg) < headerLen {
		return nil, fmt.Errorf("%w: %d values cannot hold a header", ErrSizeMismatch, len(msg))
	}
	payload := msg[headerLen:]
	n, err := safecast.Convert[int](msg[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header length %v: %w", ErrSizeMismatch, msg[0], err)
	}
	if n != len(payload) || n != want {
		return nil, fmt.Errorf("%w: header says %d values, got %d, expected %d",
			ErrSizeMismatch, n, len(payload), want)
	}
	sum, err := safecast.Convert[uint32](msg[1])
	if err != nil {
		return nil, fmt.Errorf("%w: header checksum %v: %w", ErrChecksum, msg[1], err)
	}
	if got := checksum(payload); got != sum {
		return nil, fmt.Errorf("%w: header %08x, payload %08x", ErrChecksum, sum, got)
	}
	return payload, nil
}
