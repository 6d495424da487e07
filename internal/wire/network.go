package wire

import (
	"fmt"
	"time"

	"github.com/dreamware/searchd/internal/errs"
	"github.com/dreamware/searchd/internal/netio"
)

// NetOutput wraps an Output buffer with a socket and send deadline. Flush
// drains the buffer honoring would-block via the poller; an interrupt is
// retried once a chunk has made progress and fails the flush before that.
// Any failure is recorded as a sticky error.
type NetOutput struct {
	*Output
	sock *netio.Socket
	wait netio.Waiter
	err  error
}

// NewNetOutput wraps sock for writing, using wait (typically a
// *poller.Poller) to block on write-readiness.
func NewNetOutput(sock *netio.Socket, wait netio.Waiter) *NetOutput {
	return &NetOutput{Output: NewOutput(), sock: sock, wait: wait}
}

// Err returns the sticky flush error, if any.
func (n *NetOutput) Err() error { return n.err }

// Flush writes every committed chunk plus the active blob to the socket,
// blocking on write-readiness as needed, until deadline. On success the
// buffer is reset to empty so the same NetOutput can be reused for the
// next reply.
func (n *NetOutput) Flush(deadline time.Time) error {
	if n.err != nil {
		return n.err
	}
	iov, err := n.ToScatterGather()
	if err != nil {
		n.err = err
		return err
	}
	for _, chunk := range iov {
		if err := netio.BoundedSend(n.wait, n.sock, chunk, deadline, true); err != nil {
			n.err = err
			return err
		}
	}
	n.Output = NewOutput()
	return nil
}

// NetInput wraps a socket and an internally grown byte buffer.
// Read acquires count additional bytes, appending to or replacing the buffer,
// and exposes an Input view over whatever has been read so far.
type NetInput struct {
	sock *netio.Socket
	wait netio.Waiter
	buf  []byte
	err  error
}

// NewNetInput wraps sock for reading.
func NewNetInput(sock *netio.Socket, wait netio.Waiter) *NetInput {
	return &NetInput{sock: sock, wait: wait}
}

// Err returns the sticky read error, if any.
func (n *NetInput) Err() error { return n.err }

// Bytes returns everything read so far.
func (n *NetInput) Bytes() []byte { return n.buf }

// Read acquires count additional bytes from the socket before deadline. If
// appendTo is true the new bytes are appended to the existing buffer;
// otherwise the buffer is replaced. Sets the sticky error on timeout or
// short read.
func (n *NetInput) Read(count int, deadline time.Time, interruptible bool, appendTo bool) error {
	if n.err != nil {
		return n.err
	}
	dst := make([]byte, count)
	if err := netio.BoundedRead(n.wait, n.sock, dst, deadline, interruptible); err != nil {
		n.err = err
		return err
	}
	if appendTo {
		n.buf = append(n.buf, dst...)
	} else {
		n.buf = dst
	}
	return nil
}

// AsInput returns an *Input view over the bytes read so far, suitable for
// the length-prefixed primitive readers.
func (n *NetInput) AsInput() *Input {
	return NewInput(n.buf)
}

// Envelope is the common header shape of both the request and reply
// framing: a u16 tag (command or status), a u16 version, and a
// u32 body length followed by that many bytes.
type Envelope struct {
	Tag     uint16
	Version uint16
	Body    []byte
}

// EnvelopeHeaderLen is the fixed size of an Envelope header: u16 + u16 + u32.
const EnvelopeHeaderLen = 2 + 2 + 4

// ReadEnvelope reads one full envelope (header then body) from n, enforcing
// maxBody as the configured maximum packet size. A body length exceeding
// maxBody fails with ErrOversizedPacket without reading the body.
func ReadEnvelope(n *NetInput, deadline time.Time, maxBody uint32) (Envelope, error) {
	if err := n.Read(EnvelopeHeaderLen, deadline, true, false); err != nil {
		return Envelope{}, err
	}
	in := n.AsInput()
	tag := in.ReadU16()
	version := in.ReadU16()
	bodyLen := in.ReadU32()
	if in.Err() != nil {
		return Envelope{}, in.Err()
	}
	if bodyLen > maxBody {
		return Envelope{}, fmt.Errorf("%w: body length %d exceeds max %d", errs.ErrOversizedPacket, bodyLen, maxBody)
	}
	if bodyLen == 0 {
		return Envelope{Tag: tag, Version: version}, nil
	}
	if err := n.Read(int(bodyLen), deadline, true, false); err != nil {
		return Envelope{}, err
	}
	return Envelope{Tag: tag, Version: version, Body: n.Bytes()}, nil
}

// WriteEnvelope writes a full envelope (header with deferred-length body
// plus the body itself) to out.
func WriteEnvelope(out *Output, tag uint16, version uint16, body []byte) {
	out.WriteU16(tag)
	out.WriteU16(version)
	out.BeginLength()
	out.buf = append(out.buf, body...)
	_ = out.CommitLength()
}
