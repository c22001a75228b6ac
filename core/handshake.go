package core

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// handshake reads the server greeting and answers with CONNECT. It does not
// wait for a reply to CONNECT; with verbose set the +OK shows up as the
// first event.
func handshake(dec *decoder, w *bufio.Writer, opts ConnectOptions, timeout time.Duration) (ServerInfo, error) {
	var info ServerInfo

	line, err := dec.readLine(time.Now().Add(timeout))
	if err != nil {
		return info, fmt.Errorf("failed to read server greeting: %w", err)
	}

	switch {
	case strings.HasPrefix(line, opInfo+" "):
		if err := json.Unmarshal([]byte(line[len(opInfo)+1:]), &info); err != nil {
			return info, fmt.Errorf("%w: bad INFO payload: %v", ErrProtocol, err)
		}
	case strings.HasPrefix(line, opErr+" "):
		return info, fmt.Errorf("%w: %s", ErrServerRejected, line[len(opErr)+1:])
	default:
		return info, fmt.Errorf("%w: unexpected greeting %q", ErrProtocol, line)
	}

	if err := writeConnect(w, opts); err != nil {
		return info, err
	}
	if err := w.Flush(); err != nil {
		return info, fmt.Errorf("failed to send connect: %w", err)
	}
	return info, nil
}
