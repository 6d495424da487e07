// Package wire implements the framed codec: an output buffer
// with deferred length backfill and scatter-gather emission, and an input
// buffer with length-prefixed primitives and bounds checking. Types here are
// flat values rather than an inheritance hierarchy — the
// in-memory blob and the deferred-length stack are data, scatter-gather and
// socket draining are capabilities applied to that data.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// defaultMaxLen bounds ReadString's length prefix; callers can override via
// Input.SetMaxLen for a specific configured max packet size.
const defaultMaxLen = 128 << 20 // 128 MiB, matches the original's SPH_MAX_PACKET_SIZE-ish default

// Output is a growable byte blob with a deferred-length stack. It has no
// relation to any socket; NetOutput (network.go) adds that capability.
type Output struct {
	buf       []byte
	lenStack  []int // offsets of open begin_length() slots, LIFO
	chunks    [][]byte
}

// NewOutput returns an empty output buffer.
func NewOutput() *Output {
	return &Output{buf: make([]byte, 0, 256)}
}

// Len returns the number of committed bytes in the active chunk (excludes
// sealed chunks; see NewChunk/ToScatterGather for the full length).
func (o *Output) Len() int { return len(o.buf) }

// Bytes returns the active chunk's backing bytes. The slice is only valid
// until the next write or NewChunk call.
func (o *Output) Bytes() []byte { return o.buf }

func (o *Output) WriteU8(v uint8) { o.buf = append(o.buf, v) }

func (o *Output) WriteU16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	o.buf = append(o.buf, b[:]...)
}

func (o *Output) WriteU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	o.buf = append(o.buf, b[:]...)
}

func (o *Output) WriteU64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	o.buf = append(o.buf, b[:]...)
}

// WriteU32LSB writes v in little-endian order, for the rare wire fields
// that the original protocol transmits byte-swapped.
func (o *Output) WriteU32LSB(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	o.buf = append(o.buf, b[:]...)
}

// WriteF32 writes v as its IEEE-754 bit pattern in a big-endian u32.
func (o *Output) WriteF32(v float32) {
	o.WriteU32(math.Float32bits(v))
}

// WriteDword clamps a signed value into the unsigned 32-bit wire
// representation used by "send-as-dword" fields: negative values clamp to
// zero, values above 2^32-1 clamp to 2^32-1.
func (o *Output) WriteDword(v int64) {
	switch {
	case v < 0:
		o.WriteU32(0)
	case v > math.MaxUint32:
		o.WriteU32(math.MaxUint32)
	default:
		o.WriteU32(uint32(v))
	}
}

// WriteString writes a u32 big-endian length prefix followed by the raw
// bytes of s.
func (o *Output) WriteString(s string) {
	o.WriteU32(uint32(len(s)))
	o.buf = append(o.buf, s...)
}

// WriteBytes writes a u32 big-endian length prefix followed by b.
func (o *Output) WriteBytes(b []byte) {
	o.WriteU32(uint32(len(b)))
	o.buf = append(o.buf, b...)
}

// BeginLength reserves a 4-byte slot for a length that will be known only
// once the bracketed region is fully written, and pushes its offset onto
// the deferred-length stack.
func (o *Output) BeginLength() {
	o.lenStack = append(o.lenStack, len(o.buf))
	o.WriteU32(0) // placeholder, backfilled by CommitLength
}

// CommitLength pops the most recently opened BeginLength slot and writes
// the delta between the buffer's current length and the end of that slot
// back into it, big-endian. Commits are strictly LIFO.
func (o *Output) CommitLength() error {
	n := len(o.lenStack)
	if n == 0 {
		return fmt.Errorf("wire: CommitLength with no open BeginLength")
	}
	offset := o.lenStack[n-1]
	o.lenStack = o.lenStack[:n-1]
	delta := len(o.buf) - offset - 4
	if delta < 0 {
		return fmt.Errorf("wire: negative length region (offset=%d, buf=%d)", offset, len(o.buf))
	}
	binary.BigEndian.PutUint32(o.buf[offset:offset+4], uint32(delta))
	return nil
}

// commitAllOpen force-commits every still-open BeginLength slot against the
// buffer's current end, innermost first. Flush and NewChunk call this so a
// caller is never allowed to observe a buffer with an unbackfilled length.
func (o *Output) commitAllOpen() error {
	for len(o.lenStack) > 0 {
		if err := o.CommitLength(); err != nil {
			return err
		}
	}
	return nil
}

// NewChunk seals the active blob into the chunk list (after force-committing
// any still-open lengths) and starts a fresh active blob. This is the
// chained-output mechanism: a smart output buffer holding a
// list of committed chunks plus the active one.
func (o *Output) NewChunk() error {
	if err := o.commitAllOpen(); err != nil {
		return err
	}
	sealed := o.buf
	o.chunks = append(o.chunks, sealed)
	o.buf = make([]byte, 0, 256)
	return nil
}

// ToScatterGather force-commits any open lengths and returns an I/O vector
// of every sealed chunk plus the active blob, suitable for a vectored write.
// Total length is the sum over all chunks plus the active blob.
func (o *Output) ToScatterGather() ([][]byte, error) {
	if err := o.commitAllOpen(); err != nil {
		return nil, err
	}
	iov := make([][]byte, 0, len(o.chunks)+1)
	iov = append(iov, o.chunks...)
	if len(o.buf) > 0 || len(o.chunks) == 0 {
		iov = append(iov, o.buf)
	}
	return iov, nil
}

// TotalLen returns the sum of all sealed chunks plus the active blob.
func (o *Output) TotalLen() int {
	n := len(o.buf)
	for _, c := range o.chunks {
		n += len(c)
	}
	return n
}

// Flatten force-commits open lengths and returns every chunk concatenated
// into a single slice. Prefer ToScatterGather for a real vectored write;
// Flatten exists for tests and for callers that need one contiguous blob.
func (o *Output) Flatten() ([]byte, error) {
	iov, err := o.ToScatterGather()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, o.TotalLen())
	for _, c := range iov {
		out = append(out, c...)
	}
	return out, nil
}
