// protocols/websocket/transport.go
package websocket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/natsclient-go/pkg/interfaces"
)

var _ interfaces.Transport = (*WSProtocol)(nil)

// WSProtocol carries the text protocol inside binary WebSocket frames and
// presents it as a byte stream. A read pump owns the socket's read side.
type WSProtocol struct {
	conn      *websocket.Conn
	config    Config
	msgChan   chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex

	// pending holds the unread tail of the last received frame.
	pending []byte
	readErr error
}

// Config 定义websocket特有的配置
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	Header           http.Header
}

func NewWebSocketProtocol(config Config) (*WSProtocol, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("websocket url missing")
	}
	return &WSProtocol{
		config:    config,
		msgChan:   make(chan []byte, 100),
		closeChan: make(chan struct{}),
	}, nil
}

func (p *WSProtocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dialer := *websocket.DefaultDialer
	if p.config.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = p.config.HandshakeTimeout
	}
	conn, _, err := dialer.DialContext(ctx, p.config.URL, p.config.Header)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	p.conn = conn

	go p.readPump()
	return nil
}

func (p *WSProtocol) readPump() {
	defer close(p.msgChan)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.readErr = err
			return
		}
		if len(data) == 0 {
			continue
		}
		select {
		case p.msgChan <- data:
		case <-p.closeChan:
			return
		}
	}
}

func (p *WSProtocol) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case data, ok := <-p.msgChan:
			if !ok {
				return 0, p.terminalErr()
			}
			p.pending = data
		case <-p.closeChan:
			return 0, interfaces.ErrClosed
		}
	}
	return p.drain(b), nil
}

func (p *WSProtocol) ReadTimeout(b []byte, d time.Duration) (int, error) {
	if len(p.pending) == 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case data, ok := <-p.msgChan:
			if !ok {
				return 0, p.terminalErr()
			}
			p.pending = data
		case <-p.closeChan:
			return 0, interfaces.ErrClosed
		case <-timer.C:
			return 0, interfaces.ErrReadTimeout
		}
	}
	return p.drain(b), nil
}

func (p *WSProtocol) drain(b []byte) int {
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n
}

// terminalErr is only called after msgChan is closed, which orders it after
// the pump's write of readErr.
func (p *WSProtocol) terminalErr() error {
	if p.readErr == nil || websocket.IsCloseError(p.readErr, websocket.CloseNormalClosure) {
		return io.EOF
	}
	return p.readErr
}

func (p *WSProtocol) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return 0, interfaces.ErrConnectionFailed
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *WSProtocol) ProtocolType() string { return "websocket" }

func (p *WSProtocol) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closeChan)
		if p.conn != nil {
			err = p.conn.Close()
		}
	})
	return err
}
