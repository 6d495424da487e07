package wire

import (
	"encoding/binary"
	"math"

	"github.com/dreamware/searchd/internal/errs"
)

// Input reads length-prefixed primitives out of a borrowed byte slice. Any
// read past the end sets a sticky error bit; subsequent reads then return
// the zero value and preserve the error instead of panicking.
type Input struct {
	buf    []byte
	cursor int
	err    error
	maxLen uint32
}

// NewInput wraps buf for reading. buf is not copied; it must outlive Input.
func NewInput(buf []byte) *Input {
	return &Input{buf: buf, maxLen: defaultMaxLen}
}

// SetMaxLen overrides the maximum length ReadString/ReadBytes will accept,
// matching the configured maximum packet size collaborator.
func (in *Input) SetMaxLen(n uint32) { in.maxLen = n }

// Err returns the sticky error, if any read has failed.
func (in *Input) Err() error { return in.err }

// Remaining returns the number of unread bytes.
func (in *Input) Remaining() int { return len(in.buf) - in.cursor }

func (in *Input) fail(err error) {
	if in.err == nil {
		in.err = err
	}
}

func (in *Input) take(n int) []byte {
	if in.err != nil {
		return nil
	}
	if n < 0 || in.cursor+n > len(in.buf) {
		in.fail(errs.ErrShortHeader)
		return nil
	}
	b := in.buf[in.cursor : in.cursor+n]
	in.cursor += n
	return b
}

func (in *Input) ReadU8() uint8 {
	b := in.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (in *Input) ReadU16() uint16 {
	b := in.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (in *Input) ReadU32() uint32 {
	b := in.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (in *Input) ReadU64() uint64 {
	b := in.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// ReadU32LSB reads a little-endian u32 (the counterpart of WriteU32LSB).
func (in *Input) ReadU32LSB() uint32 {
	b := in.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (in *Input) ReadF32() float32 {
	return math.Float32frombits(in.ReadU32())
}

// ReadString reads a u32 length prefix, validates it against the configured
// maximum packet size, and returns a copy of the following bytes as a
// string. A length exceeding the max sets the sticky error bit with
// ErrOversizedPacket.
func (in *Input) ReadString() string {
	n := in.ReadU32()
	if in.err != nil {
		return ""
	}
	if n > in.maxLen {
		in.fail(errs.ErrOversizedPacket)
		return ""
	}
	b := in.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

// ReadBytes reads a u32 length prefix followed by that many raw bytes,
// returned as a fresh copy.
func (in *Input) ReadBytes() []byte {
	n := in.ReadU32()
	if in.err != nil {
		return nil
	}
	if n > in.maxLen {
		in.fail(errs.ErrOversizedPacket)
		return nil
	}
	b := in.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// ReadBytesZerocopy returns a slice into the underlying buffer of the next
// n bytes without copying. The result aliases Input's backing array and is
// only valid as long as that array is not mutated or released.
func (in *Input) ReadBytesZerocopy(n int) []byte {
	return in.take(n)
}
