package stomp

import (
	"bytes"
	"fmt"
	"strings"
)

// STOMP 1.2 client frame commands.
const (
	CmdConnect     = "CONNECT"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
)

// STOMP 1.2 server frame commands.
const (
	CmdConnected = "CONNECTED"
	CmdMessage   = "MESSAGE"
	CmdReceipt   = "RECEIPT"
	CmdError     = "ERROR"
)

// Common header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrContentType   = "content-type"
	HdrMessage       = "message"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrAuthorization = "Authorization"
)

// Frame is a single STOMP frame. Headers preserve insertion order; lookups
// return the first value for a name, matching the STOMP rule that repeated
// headers keep the first occurrence.
type Frame struct {
	Command string
	headers [][2]string
	Body    []byte
}

func NewFrame(command string, body []byte) *Frame {
	return &Frame{Command: command, Body: body}
}

func (f *Frame) Set(name, value string) *Frame {
	for i := range f.headers {
		if f.headers[i][0] == name {
			f.headers[i][1] = value
			return f
		}
	}
	f.headers = append(f.headers, [2]string{name, value})
	return f
}

func (f *Frame) Get(name string) string {
	for _, h := range f.headers {
		if h[0] == name {
			return h[1]
		}
	}
	return ""
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Command: %s, Headers: %d, Body.Size: %d}", f.Command, len(f.headers), len(f.Body))
}

var headerEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r", `\r`,
	"\n", `\n`,
	":", `\c`,
)

var headerUnescaper = strings.NewReplacer(
	`\r`, "\r",
	`\n`, "\n",
	`\c`, ":",
	`\\`, `\`,
)

// escapedHeaders reports whether header values of frames with this command
// undergo backslash escaping. The STOMP 1.2 spec exempts CONNECT and
// CONNECTED for 1.0 compatibility.
func escapedHeaders(command string) bool {
	return command != CmdConnect && command != CmdConnected
}

// Marshal renders the frame in STOMP wire format, NUL terminated.
func (f *Frame) Marshal() []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')
	escape := escapedHeaders(f.Command)
	for _, h := range f.headers {
		name, value := h[0], h[1]
		if escape {
			name = headerEscaper.Replace(name)
			value = headerEscaper.Replace(value)
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// IsHeartBeat reports whether raw is a STOMP heart-beat (a bare EOL).
func IsHeartBeat(raw []byte) bool {
	return len(bytes.TrimRight(raw, "\r\n")) == 0
}

// Parse decodes a single STOMP frame from raw. The trailing NUL is optional;
// some brokers strip it at the websocket message boundary.
func Parse(raw []byte) (*Frame, error) {
	head, body, found := bytes.Cut(raw, []byte("\n\n"))
	if !found {
		return nil, fmt.Errorf("stomp: malformed frame: missing header terminator")
	}
	lines := strings.Split(strings.TrimSuffix(string(head), "\r"), "\n")
	command := strings.TrimSuffix(lines[0], "\r")
	if command == "" {
		return nil, fmt.Errorf("stomp: malformed frame: empty command")
	}
	f := &Frame{Command: command}
	escape := escapedHeaders(command)
	seen := make(map[string]bool)
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("stomp: malformed header line %q", line)
		}
		if escape {
			name = headerUnescaper.Replace(name)
			value = headerUnescaper.Replace(value)
		}
		// first occurrence wins
		if !seen[name] {
			seen[name] = true
			f.headers = append(f.headers, [2]string{name, value})
		}
	}
	body = bytes.TrimSuffix(body, []byte{0})
	f.Body = body
	return f, nil
}
