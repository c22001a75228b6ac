package core

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Outgoing frames are staged in a bufio.Writer; the caller decides when to
// flush.

func writeConnect(w *bufio.Writer, opts ConnectOptions) error {
	payload, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("failed to marshal connect options: %w", err)
	}
	w.WriteString(opConnect)
	w.WriteByte(' ')
	w.Write(payload)
	_, err = w.WriteString(crlf)
	return err
}

func writeSub(w *bufio.Writer, subject, queue string, sid int64) error {
	var num [20]byte
	w.WriteString(opSub)
	w.WriteByte(' ')
	w.WriteString(subject)
	w.WriteByte(' ')
	if queue != "" {
		w.WriteString(queue)
		w.WriteByte(' ')
	}
	w.Write(strconv.AppendInt(num[:0], sid, 10))
	_, err := w.WriteString(crlf)
	return err
}

// writeUnsub omits the max field when max <= 0.
func writeUnsub(w *bufio.Writer, sid int64, max int) error {
	var num [20]byte
	w.WriteString(opUnsub)
	w.WriteByte(' ')
	w.Write(strconv.AppendInt(num[:0], sid, 10))
	if max > 0 {
		w.WriteByte(' ')
		w.Write(strconv.AppendInt(num[:0], int64(max), 10))
	}
	_, err := w.WriteString(crlf)
	return err
}

// writePub always emits the reply position; an absent reply is an empty
// token between two spaces.
func writePub(w *bufio.Writer, subject, reply string, data []byte) error {
	var num [20]byte
	w.WriteString(opPub)
	w.WriteByte(' ')
	w.WriteString(subject)
	w.WriteByte(' ')
	w.WriteString(reply)
	w.WriteByte(' ')
	w.Write(strconv.AppendInt(num[:0], int64(len(data)), 10))
	w.WriteString(crlf)
	w.Write(data)
	_, err := w.WriteString(crlf)
	return err
}

func writePong(w *bufio.Writer) error {
	_, err := w.WriteString(opPong + crlf)
	return err
}

func validSubject(s string) bool {
	return s != "" && !strings.ContainsAny(s, " \t\r\n")
}

func validToken(s string) bool {
	return !strings.ContainsAny(s, " \t\r\n")
}
