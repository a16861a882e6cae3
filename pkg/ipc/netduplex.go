package ipc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// NetDuplex adapts a net.Conn into a Duplex using newline-delimited message
// framing, matching the modeld wire protocol. Like any Duplex it must only
// be driven by its owning worker; wrap it in a [Channel] to share it.
type NetDuplex struct {
	conn   net.Conn
	reader *bufio.Reader

	// partial holds bytes of a message whose delimiter had not arrived when
	// a read deadline expired. They are the prefix of the next message.
	partial []byte
}

// NewNetDuplex wraps conn. The caller hands over ownership of conn.
func NewNetDuplex(conn net.Conn) *NetDuplex {
	return &NetDuplex{conn: conn, reader: bufio.NewReader(conn)}
}

// Send writes one newline-terminated message. Embedded newlines are not
// allowed since they would break framing.
func (d *NetDuplex) Send(p []byte) error {
	if bytes.IndexByte(p, '\n') >= 0 {
		return errors.New("ipc: message contains newline")
	}
	buf := make([]byte, 0, len(p)+1)
	buf = append(buf, p...)
	buf = append(buf, '\n')
	if _, err := d.conn.Write(buf); err != nil {
		return fmt.Errorf("ipc: write: %w", err)
	}
	return nil
}

// Recv reads the next newline-terminated message, without the delimiter.
func (d *NetDuplex) Recv(timeout time.Duration) ([]byte, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("ipc: set read deadline: %w", err)
	}

	line, err := d.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			// ReadBytes hands back whatever it consumed before the deadline.
			// Those bytes must survive until the rest of the line arrives.
			d.partial = append(d.partial, line...)
			return nil, ErrRecvTimeout
		}
		return nil, err
	}
	if len(d.partial) > 0 {
		line = append(d.partial, line...)
		d.partial = nil
	}
	return bytes.TrimRight(line, "\n"), nil
}

// Close closes the connection. Idempotent for the purposes of Duplex: a
// second close error from the runtime is swallowed.
func (d *NetDuplex) Close() error {
	err := d.conn.Close()
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Ensure NetDuplex implements Duplex at compile time.
var _ Duplex = (*NetDuplex)(nil)
