package core

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/lisuiheng/natsclient-go/pkg/interfaces"
	"github.com/lisuiheng/natsclient-go/pool"
)

// chunkReader delivers its chunks one read at a time and times out once
// they are exhausted.
type chunkReader struct {
	chunks [][]byte
}

func splitEvery(data string, size int) *chunkReader {
	r := &chunkReader{}
	for len(data) > 0 {
		n := min(size, len(data))
		r.chunks = append(r.chunks, []byte(data[:n]))
		data = data[n:]
	}
	return r
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkReader) ReadTimeout(p []byte, _ time.Duration) (int, error) {
	if len(r.chunks) == 0 {
		return 0, interfaces.ErrReadTimeout
	}
	return r.Read(p)
}

// drain decodes until the reader times out and returns every event that is
// not None.
func drain(t *testing.T, d *decoder) []Event {
	t.Helper()
	var events []Event
	for i := 0; i < 10000; i++ {
		ev, err := d.consumeOne(time.Millisecond)
		if err != nil {
			t.Fatalf("consumeOne: %v", err)
		}
		switch ev.(type) {
		case Timeout:
			return events
		case None:
		default:
			events = append(events, ev)
		}
	}
	t.Fatal("decoder did not settle")
	return nil
}

func TestDecodeFrames(t *testing.T) {
	stream := "+OK\r\n" +
		"MSG foo 1 5\r\nhello\r\n" +
		"PING\r\n" +
		"MSG bar.baz 12 _INBOX.x 3\r\nabc\r\n" +
		"-ERR 'Unknown Subject'\r\n" +
		"MSG empty 2 0\r\n\r\n"

	d := newDecoder(splitEvery(stream, len(stream)), pool.New(), 64)
	events := drain(t, d)

	want := []Event{
		OK{},
		&Msg{Subject: "foo", Sid: 1, Data: []byte("hello")},
		Ping{},
		&Msg{Subject: "bar.baz", Sid: 12, Reply: "_INBOX.x", Data: []byte("abc")},
		ServerErr{Text: "'Unknown Subject'"},
		&Msg{Subject: "empty", Sid: 2, Data: []byte{}},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %#v", len(events), len(want), events)
	}
	for i := range want {
		assertEvent(t, events[i], want[i])
	}
}

func assertEvent(t *testing.T, got, want Event) {
	t.Helper()
	if got.Kind() != want.Kind() {
		t.Fatalf("kind = %v, want %v", got.Kind(), want.Kind())
	}
	switch w := want.(type) {
	case *Msg:
		g := got.(*Msg)
		if g.Subject != w.Subject || g.Sid != w.Sid || g.Reply != w.Reply || !bytes.Equal(g.Data, w.Data) {
			t.Errorf("msg = %+v, want %+v", g, w)
		}
	case ServerErr:
		if got.(ServerErr).Text != w.Text {
			t.Errorf("err text = %q, want %q", got.(ServerErr).Text, w.Text)
		}
	}
}

func TestDecodePartialReads(t *testing.T) {
	stream := "MSG foo 7 _INBOX.r 11\r\nhello world\r\nPING\r\n"
	for _, size := range []int{1, 2, 3, 5, 13, 24, 26, len(stream)} {
		d := newDecoder(splitEvery(stream, size), pool.New(), 64)
		events := drain(t, d)
		if len(events) != 2 {
			t.Fatalf("chunk %d: got %d events %#v", size, len(events), events)
		}
		assertEvent(t, events[0], &Msg{Subject: "foo", Sid: 7, Reply: "_INBOX.r", Data: []byte("hello world")})
		assertEvent(t, events[1], Ping{})
	}
}

func TestDecodeIgnoresUnknownLines(t *testing.T) {
	stream := "PONG\r\nINFO {}\r\nMSG a 1 1\r\nx\r\n"
	d := newDecoder(splitEvery(stream, len(stream)), pool.New(), 64)

	for i := 0; i < 2; i++ {
		ev, err := d.consumeOne(time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := ev.(None); !ok && i > 0 {
			t.Fatalf("line %d: got %#v, want None", i, ev)
		}
	}
	events := drain(t, d)
	if len(events) != 1 {
		t.Fatalf("got %#v", events)
	}
	assertEvent(t, events[0], &Msg{Subject: "a", Sid: 1, Data: []byte("x")})
}

func TestDecodeTimeout(t *testing.T) {
	d := newDecoder(&chunkReader{}, pool.New(), 64)
	ev, err := d.consumeOne(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ev.(Timeout); !ok {
		t.Fatalf("got %#v, want Timeout", ev)
	}
}

func TestDecodeGrowthPreservesUnreadBytes(t *testing.T) {
	header := "MSG " + string(bytes.Repeat([]byte("s"), 56))
	r := &chunkReader{chunks: [][]byte{[]byte(header)}}
	d := newDecoder(r, pool.New(), 64)
	if len(d.buf) != 64 {
		t.Fatalf("initial capacity %d", len(d.buf))
	}

	if ev, err := d.consumeOne(time.Millisecond); err != nil {
		t.Fatal(err)
	} else if _, ok := ev.(None); !ok {
		t.Fatalf("got %#v, want None", ev)
	}
	if d.n != 60 {
		t.Fatalf("n = %d, want 60", d.n)
	}

	r.chunks = append(r.chunks, []byte(" 3 2\r\nok\r\n"))
	if _, err := d.consumeOne(time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if len(d.buf) != 128 {
		t.Fatalf("capacity after growth = %d, want 128", len(d.buf))
	}
	if !bytes.Equal(d.buf[:60], []byte(header)) {
		t.Fatalf("unread bytes changed: %q", d.buf[:60])
	}

	events := drain(t, d)
	if len(events) != 1 {
		t.Fatalf("got %#v", events)
	}
	assertEvent(t, events[0], &Msg{Subject: string(bytes.Repeat([]byte("s"), 56)), Sid: 3, Data: []byte("ok")})
}

func TestDecodeNoGrowthBelowThreshold(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{bytes.Repeat([]byte("a"), 57)}}
	d := newDecoder(r, pool.New(), 64)
	d.consumeOne(time.Millisecond)
	d.consumeOne(time.Millisecond)
	if len(d.buf) != 64 {
		t.Errorf("buffer grew at n=%d: cap %d", d.n, len(d.buf))
	}
}

func TestDecodeMalformedMsg(t *testing.T) {
	tests := []struct {
		stream     string
		maxPayload int64
	}{
		{"MSG foo\r\n", 0},
		{"MSG foo x 3\r\nabc\r\n", 0},
		{"MSG foo 1 -1\r\n", 0},
		{"MSG foo 1 3\r\nabcXY", 0},
		{"MSG a 1 9223372036854775807\r\n", 0},
		{"MSG a 1 9223372036854775806\r\n", 0},
		{"MSG a 1 9223372036854775808\r\n", 0},
		{"MSG a 1 1099511627776\r\n", 0},
		{"MSG a 1 5\r\nhello\r\n", 4},
		{"MSG a 1 r 1048577\r\n", 1048576},
	}
	for _, tt := range tests {
		d := newDecoder(splitEvery(tt.stream, len(tt.stream)), pool.New(), 64)
		d.maxPayload = tt.maxPayload
		_, err := d.consumeOne(time.Millisecond)
		for err == nil {
			_, err = d.consumeOne(time.Millisecond)
		}
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("%q (max %d): got %v, want ErrProtocol", tt.stream, tt.maxPayload, err)
		}
	}
}

func TestDecodeMsgAtPayloadLimit(t *testing.T) {
	d := newDecoder(splitEvery("MSG a 1 4\r\nabcd\r\n", 5), pool.New(), 64)
	d.maxPayload = 4
	events := drain(t, d)
	if len(events) != 1 {
		t.Fatalf("got %#v", events)
	}
	assertEvent(t, events[0], &Msg{Subject: "a", Sid: 1, Data: []byte("abcd")})
}

func TestDecodeTruncatedPayload(t *testing.T) {
	stream := "MSG foo 1 10\r\nabc"
	d := newDecoder(splitEvery(stream, len(stream)), pool.New(), 64)
	var err error
	for err == nil {
		_, err = d.consumeOne(time.Millisecond)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReadLine(t *testing.T) {
	d := newDecoder(splitEvery("INFO {}\r\n+OK\r\n", 3), pool.New(), 64)
	line, err := d.readLine(time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if line != "INFO {}" {
		t.Errorf("line = %q", line)
	}
	events := drain(t, d)
	if len(events) != 1 || events[0].Kind() != KindOK {
		t.Errorf("leftover bytes lost: %#v", events)
	}

	d = newDecoder(&chunkReader{}, pool.New(), 64)
	if _, err := d.readLine(time.Now().Add(10 * time.Millisecond)); !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}
