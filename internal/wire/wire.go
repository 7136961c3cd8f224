// Package wire implements the controller<->child framing protocol (C2 in
// SPEC_FULL.md): one call yields exactly one Request frame out and one
// Response frame back, length-prefixed atop whatever duplex byte channel
// internal/spawn hands back. This is a same-host IPC protocol, not a
// portable wire format, so it uses encoding/gob — the idiomatic Go
// analogue of in-process value transfer, the same way the source system
// this spec was distilled from used its host platform's native marshaller
// for same-host worker traffic (see SPEC_FULL.md's Wire codec section for
// why no third-party serializer was a better fit here).
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// maxFrameSize guards against a corrupt length prefix turning a short read
// into an unbounded allocation.
const maxFrameSize = 256 << 20 // 256 MiB

// Request carries a serialized entry-tag/argument pair down to the child.
type Request struct {
	EntryTag     string
	Arg          []byte
	ClonePerCall bool // requested execution mode for this call
}

// Response carries either a success value or a tagged failure back up.
type Response struct {
	OK     bool
	Value  []byte
	ErrMsg string // populated when OK is false
}

// ErrShortFrame is returned when the peer closed the channel mid-frame —
// a truncated frame or EOF before a complete response, per spec.md §4.1.
var ErrShortFrame = fmt.Errorf("wire: short frame (peer closed mid-message)")

// Conn wraps a duplex byte channel with buffered, length-prefixed framing.
// The controller side writes a Request then reads a single Response; the
// child side does the mirror image in its executor loop.
type Conn struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// NewConn wraps rwc (typically the pipe pair from internal/spawn) for
// framed gob traffic.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{r: bufio.NewReader(rwc), w: bufio.NewWriter(rwc), c: rwc}
}

// Close closes the underlying channel.
func (c *Conn) Close() error { return c.c.Close() }

// WriteRequest frames and sends req.
func (c *Conn) WriteRequest(req *Request) error { return writeFrame(c.w, req) }

// ReadRequest reads and decodes one request frame.
func (c *Conn) ReadRequest() (*Request, error) {
	var req Request
	if err := readFrame(c.r, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// WriteResponse frames and sends resp.
func (c *Conn) WriteResponse(resp *Response) error { return writeFrame(c.w, resp) }

// ReadResponse reads and decodes one response frame. Returns an error
// wrapping ErrShortFrame on a dead or half-closed peer; the underlying
// io.EOF/io.ErrUnexpectedEOF appears in its message but is not wrapped.
func (c *Conn) ReadResponse() (*Response, error) {
	var resp Response
	if err := readFrame(c.r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func writeFrame(w *bufio.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}
	body := buf.Bytes()

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return w.Flush()
}

func readFrame(r *bufio.Reader, v any) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: %v", ErrShortFrame, err)
		}
		return fmt.Errorf("wire: read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds %d byte cap", n, maxFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: %v", ErrShortFrame, err)
		}
		return fmt.Errorf("wire: read body: %w", err)
	}

	dec := gob.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("wire: decode frame: %w", err)
	}
	return nil
}
