package ws

import (
	"bytes"
	"fmt"
	"strings"
)

// STOMP commands understood by the gateway.
const (
	CommandConnect     = "CONNECT"
	CommandStomp       = "STOMP"
	CommandConnected   = "CONNECTED"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandSend        = "SEND"
	CommandMessage     = "MESSAGE"
	CommandDisconnect  = "DISCONNECT"
)

// Frame is a single STOMP frame: command line, header lines, blank line,
// body terminated by a NUL octet.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// NewFrame builds a frame with the given command and header pairs.
func NewFrame(command string, headers map[string]string) *Frame {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &Frame{Command: command, Headers: headers}
}

// Header returns the named header or the empty string.
func (f *Frame) Header(name string) string {
	if f.Headers == nil {
		return ""
	}
	return f.Headers[name]
}

// Parse decodes a raw websocket message into a STOMP frame. Both LF and CRLF
// line endings are accepted, per STOMP 1.2.
func Parse(raw []byte) (*Frame, error) {
	raw = bytes.TrimSuffix(raw, []byte{0})
	head, body := splitFrame(raw)

	lines := strings.Split(strings.TrimRight(string(head), "\r"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("stomp: empty command line")
	}

	frame := &Frame{
		Command: strings.TrimSpace(lines[0]),
		Headers: make(map[string]string, len(lines)-1),
	}

	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("stomp: malformed header %q", line)
		}
		// First occurrence wins, per the STOMP spec.
		if _, exists := frame.Headers[name]; !exists {
			frame.Headers[name] = value
		}
	}

	frame.Body = body
	return frame, nil
}

// splitFrame cuts the raw frame at the first blank line, whichever line
// ending style reaches one first.
func splitFrame(raw []byte) (head, body []byte) {
	lf := bytes.Index(raw, []byte("\n\n"))
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))

	switch {
	case crlf >= 0 && (lf < 0 || crlf+1 < lf):
		return raw[:crlf], raw[crlf+4:]
	case lf >= 0:
		return raw[:lf], raw[lf+2:]
	default:
		return raw, nil
	}
}

// Marshal encodes the frame into its wire representation.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	for name, value := range f.Headers {
		buf.WriteString(name)
		buf.WriteByte(':')
		buf.WriteString(value)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}
