// Package frame implements the wire protocol shared by the relay, lan
// agent, and local proxy: a JSON object per message, discriminated by a
// "type" field, with binary payloads carried as base64 strings.
package frame

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Type identifies a frame variant.
type Type string

const (
	TypeHello        Type = "hello"
	TypeHelloAck     Type = "hello-ack"
	TypeHTTPRequest  Type = "http-request"
	TypeHTTPResponse Type = "http-response"
	TypeConnectStart Type = "connect-start"
	TypeConnectAck   Type = "connect-ack"
	TypeConnectError Type = "connect-error"
	TypeConnectData  Type = "connect-data"
	TypeConnectEnd   Type = "connect-end"
	TypeError        Type = "error"
)

// Role identifies which side of a session a socket represents.
type Role string

const (
	RoleLAN   Role = "lan"
	RoleProxy Role = "proxy"
)

// Valid reports whether r is one of the two recognized roles.
func (r Role) Valid() bool {
	return r == RoleLAN || r == RoleProxy
}

// HTTPRequestPayload is the "request" sub-object of an http-request frame.
type HTTPRequestPayload struct {
	Method     string              `json:"method"`
	URL        string              `json:"url"`
	Headers    map[string][]string `json:"headers,omitempty"`
	BodyBase64 string              `json:"bodyBase64,omitempty"`
}

// Frame is a tagged union of every message that can cross the wire. Only
// the fields relevant to Type are meaningful; the rest are zero. This
// mirrors the "dynamic JSON frames as tagged variants" shape used
// throughout the protocol.
type Frame struct {
	Type Type `json:"type"`

	// hello / hello-ack
	Role            Role `json:"role,omitempty"`
	Session         string `json:"session,omitempty"`
	ProtocolVersion int    `json:"protocolVersion,omitempty"`

	// http-request / http-response / connect-*
	ID string `json:"id,omitempty"`

	// http-request
	Request *HTTPRequestPayload `json:"request,omitempty"`

	// http-response
	Status     int                 `json:"status,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	BodyBase64 string              `json:"bodyBase64,omitempty"`
	Error      string              `json:"error,omitempty"`

	// connect-start
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// connect-error / error
	Message string `json:"message,omitempty"`

	// connect-data
	DataBase64 string `json:"dataBase64,omitempty"`
}

// Marshal serializes the frame as a single JSON object with no embedded newline.
func Marshal(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Unmarshal parses a single JSON object into a Frame.
func Unmarshal(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// EncodeBody base64-encodes a byte buffer; an empty (including nil) buffer
// encodes to the empty string.
func EncodeBody(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBody base64-decodes a payload string; the empty string decodes to
// an empty (non-nil) buffer.
func DecodeBody(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("frame: invalid base64 payload: %w", err)
	}
	return b, nil
}

// NewError builds a protocol-error frame sent from the relay back to an
// offending client.
func NewError(message string) Frame {
	return Frame{Type: TypeError, Message: message}
}
