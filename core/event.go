package core

// EventKind identifies the variant of an Event.
type EventKind int

const (
	KindNone EventKind = iota
	KindMsg
	KindOK
	KindErr
	KindPing
	KindTimeout
)

func (k EventKind) String() string {
	switch k {
	case KindMsg:
		return "msg"
	case KindOK:
		return "ok"
	case KindErr:
		return "err"
	case KindPing:
		return "ping"
	case KindTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// Event is one decoded protocol outcome. The concrete types are *Msg, OK,
// ServerErr, Ping, None and Timeout; switch on the type to handle them.
type Event interface {
	Kind() EventKind
	event()
}

// Msg is a MSG frame. Reply is empty when the publisher gave no reply subject.
type Msg struct {
	Subject string
	Sid     int64
	Reply   string
	Data    []byte
}

// OK is a +OK acknowledgement, sent only in verbose mode.
type OK struct{}

// ServerErr is a -ERR frame received after the handshake.
type ServerErr struct {
	Text string
}

// Ping is a server keepalive. Answer it with Conn.SendPong.
type Ping struct{}

// None means a frame was consumed, or bytes were read, without anything for
// the caller to act on.
type None struct{}

// Timeout means nothing arrived within the read timeout.
type Timeout struct{}

func (*Msg) Kind() EventKind      { return KindMsg }
func (OK) Kind() EventKind        { return KindOK }
func (ServerErr) Kind() EventKind { return KindErr }
func (Ping) Kind() EventKind      { return KindPing }
func (None) Kind() EventKind      { return KindNone }
func (Timeout) Kind() EventKind   { return KindTimeout }

func (*Msg) event()      {}
func (OK) event()        {}
func (ServerErr) event() {}
func (Ping) event()      {}
func (None) event()      {}
func (Timeout) event()   {}
