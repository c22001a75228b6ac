package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lisuiheng/natsclient-go/pkg/interfaces"
	"github.com/lisuiheng/natsclient-go/pool"
)

// reader is the part of a transport the decoder needs.
type reader interface {
	Read(p []byte) (int, error)
	ReadTimeout(p []byte, d time.Duration) (int, error)
}

// decoder turns the inbound byte stream into Events. buf[:n] holds bytes
// received but not yet consumed; consumed bytes are always compacted away, so
// buf[0] is the start of the next frame.
type decoder struct {
	r    reader
	pool *pool.Pool
	buf  []byte
	n    int

	// maxPayload bounds MSG payload sizes. Zero selects maxPayloadCeiling.
	maxPayload int64
}

// maxPayloadCeiling caps MSG payloads when the server advertised no limit.
// It matches the largest max_payload a server accepts.
const maxPayloadCeiling = 64 << 20

func newDecoder(r reader, p *pool.Pool, size int) *decoder {
	buf := p.Get(size)
	return &decoder{
		r:    r,
		pool: p,
		buf:  buf[:cap(buf)],
	}
}

// consumeOne performs one decode step: it returns at most one frame and
// performs at most one read while looking for a header line.
func (d *decoder) consumeOne(timeout time.Duration) (Event, error) {
	i := bytes.Index(d.buf[:d.n], []byte(crlf))
	if i < 0 {
		return d.fill(timeout)
	}

	line := string(d.buf[:i])
	d.discard(i + len(crlf))

	op, args, _ := strings.Cut(line, " ")
	switch op {
	case opMsg:
		return d.readMsg(args)
	case opErr:
		return ServerErr{Text: args}, nil
	case opOK:
		return OK{}, nil
	case opPing:
		return Ping{}, nil
	default:
		return None{}, nil
	}
}

// fill reads once into the free tail of buf, growing it first when less
// than a tenth of it is free.
func (d *decoder) fill(timeout time.Duration) (Event, error) {
	if d.n > len(d.buf)*9/10 {
		d.grow()
	}
	n, err := d.r.ReadTimeout(d.buf[d.n:], timeout)
	d.n += n
	if errors.Is(err, interfaces.ErrReadTimeout) {
		if n > 0 {
			return None{}, nil
		}
		return Timeout{}, nil
	}
	if err != nil {
		return nil, err
	}
	return None{}, nil
}

func (d *decoder) grow() {
	next := d.pool.Get(2 * len(d.buf))
	next = next[:cap(next)]
	copy(next, d.buf[:d.n])
	d.pool.Put(d.buf)
	d.buf = next
}

// discard drops the first k valid bytes and shifts the rest to the front.
func (d *decoder) discard(k int) {
	copy(d.buf, d.buf[k:d.n])
	d.n -= k
}

// readMsg assembles the payload announced by a MSG header. The buffered
// prefix is moved into a scratch region; the remainder is read straight into
// it and never past the payload's terminator.
func (d *decoder) readMsg(args string) (Event, error) {
	msg, size, err := parseMsgArgs(args, d.maxPayload)
	if err != nil {
		return nil, err
	}

	need := size + len(crlf)
	scratch := d.pool.Get(need)
	defer d.pool.Put(scratch)

	got := copy(scratch, d.buf[:min(d.n, need)])
	d.discard(got)

	for got < need {
		n, err := d.r.Read(scratch[got:need])
		got += n
		if err != nil && got < need {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	if string(scratch[size:need]) != crlf {
		return nil, fmt.Errorf("%w: payload for %q not terminated by CRLF", ErrProtocol, msg.Subject)
	}

	msg.Data = make([]byte, size)
	copy(msg.Data, scratch[:size])
	return msg, nil
}

// parseMsgArgs accepts "subject sid size" and "subject sid reply size".
// Sizes above limit (or maxPayloadCeiling when limit <= 0) are rejected.
func parseMsgArgs(args string, limit int64) (*Msg, int, error) {
	f := strings.Fields(args)
	var msg Msg
	var sizeField string
	switch len(f) {
	case 3:
		msg.Subject, sizeField = f[0], f[2]
	case 4:
		msg.Subject, msg.Reply, sizeField = f[0], f[2], f[3]
	default:
		return nil, 0, fmt.Errorf("%w: malformed MSG arguments %q", ErrProtocol, args)
	}
	sid, err := strconv.ParseInt(f[1], 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bad sid %q", ErrProtocol, f[1])
	}
	size, err := strconv.Atoi(sizeField)
	if err != nil || size < 0 || size > math.MaxInt-len(crlf) {
		return nil, 0, fmt.Errorf("%w: bad payload size %q", ErrProtocol, sizeField)
	}
	if limit <= 0 {
		limit = maxPayloadCeiling
	}
	if int64(size) > limit {
		return nil, 0, fmt.Errorf("%w: payload size %d exceeds %d", ErrProtocol, size, limit)
	}
	msg.Sid = sid
	return &msg, size, nil
}

// readLine loops decode reads until a full line is buffered or the deadline
// passes, then consumes and returns it. Used before steady state begins.
func (d *decoder) readLine(deadline time.Time) (string, error) {
	for {
		if i := bytes.Index(d.buf[:d.n], []byte(crlf)); i >= 0 {
			line := string(d.buf[:i])
			d.discard(i + len(crlf))
			return line, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrTimeout
		}
		ev, err := d.fill(remaining)
		if err != nil {
			return "", err
		}
		if _, ok := ev.(Timeout); ok {
			return "", ErrTimeout
		}
	}
}

// release returns the receive buffer to the pool. The decoder is unusable
// afterwards.
func (d *decoder) release() {
	if d.buf != nil {
		d.pool.Put(d.buf)
		d.buf = nil
		d.n = 0
	}
}
