//go:build linux

package tcp

import (
	"errors"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var errPollUnsupported = errors.New("poll unsupported")

// poll reports whether the socket became readable within d. Hangups and
// socket errors count as readable so the following read surfaces them.
func (p *TCPProtocol) poll(d time.Duration) (bool, error) {
	sc, ok := p.conn.(syscall.Conn)
	if !ok {
		return false, errPollUnsupported
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return false, err
	}

	var (
		ready   bool
		pollErr error
	)
	deadline := time.Now().Add(d)
	ctrlErr := rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			n, err := unix.Poll(fds, int(remaining.Milliseconds()))
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				pollErr = err
				return
			}
			ready = n > 0
			return
		}
	})
	if ctrlErr != nil {
		return false, ctrlErr
	}
	return ready, pollErr
}
