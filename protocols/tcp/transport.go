// protocols/tcp/transport.go
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/lisuiheng/natsclient-go/pkg/interfaces"
)

var _ interfaces.Transport = (*TCPProtocol)(nil)

// Config 定义TCP特有的配置
type Config struct {
	Host        string
	Port        int
	DialTimeout time.Duration
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type TCPProtocol struct {
	conn   net.Conn
	config Config
	mu     sync.Mutex
	closed bool
}

func NewTCPProtocol(config Config) (*TCPProtocol, error) {
	if config.Host == "" {
		return nil, errors.New("tcp host missing")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("tcp port out of range: %d", config.Port)
	}
	return &TCPProtocol{config: config}, nil
}

// FromConn wraps an already established connection.
func FromConn(conn net.Conn) *TCPProtocol {
	return &TCPProtocol{conn: conn}
}

func (p *TCPProtocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return interfaces.ErrClosed
	}
	dialer := net.Dialer{Timeout: p.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.config.Address())
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	p.conn = conn
	return nil
}

func (p *TCPProtocol) Read(b []byte) (int, error) {
	if p.conn == nil {
		return 0, interfaces.ErrConnectionFailed
	}
	return p.conn.Read(b)
}

// ReadTimeout waits for readability with poll(2) where the platform allows
// it and falls back to a read deadline otherwise.
func (p *TCPProtocol) ReadTimeout(b []byte, d time.Duration) (int, error) {
	if p.conn == nil {
		return 0, interfaces.ErrConnectionFailed
	}
	ready, err := p.poll(d)
	if errors.Is(err, errPollUnsupported) {
		return p.deadlineRead(b, d)
	}
	if err != nil {
		return 0, err
	}
	if !ready {
		return 0, interfaces.ErrReadTimeout
	}
	return p.conn.Read(b)
}

func (p *TCPProtocol) deadlineRead(b []byte, d time.Duration) (int, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return 0, err
	}
	n, err := p.conn.Read(b)
	if resetErr := p.conn.SetReadDeadline(time.Time{}); resetErr != nil && err == nil {
		err = resetErr
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, interfaces.ErrReadTimeout
	}
	return n, err
}

func (p *TCPProtocol) Write(b []byte) (int, error) {
	if p.conn == nil {
		return 0, interfaces.ErrConnectionFailed
	}
	return p.conn.Write(b)
}

func (p *TCPProtocol) ProtocolType() string { return "tcp" }

func (p *TCPProtocol) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
