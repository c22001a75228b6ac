//go:build !linux

package tcp

import (
	"errors"
	"time"
)

var errPollUnsupported = errors.New("poll unsupported")

func (p *TCPProtocol) poll(time.Duration) (bool, error) {
	return false, errPollUnsupported
}
