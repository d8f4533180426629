// Package gateway talks to the external push delivery gateway.
package gateway

import (
	"context"
	"encoding/json"
	"strings"
)

// Client is the outbound delivery port.
type Client interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

type Metadata struct {
	Kind       string `json:"kind"`
	Priority   string `json:"priority"`
	PayloadHex string `json:"payloadHex"`
}

// Request is the JSON body posted to the gateway.
type Request struct {
	DeviceRef string   `json:"deviceRef"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Metadata  Metadata `json:"metadata"`
}

type Response struct {
	StatusCode int
	Body       string
	RequestID  string
}

// Detail is the diagnostic snapshot of one gateway call kept in the audit log.
type Detail struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
	Transient  bool   `json:"transient,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	DurationMs int64  `json:"durationMs"`

	// Gateway holds the gateway's own JSON diagnostic, byte for byte.
	Gateway json.RawMessage `json:"-"`
}

// SetBody records a gateway response body. JSON bodies are kept verbatim in
// Gateway; anything else is kept as text in Body.
func (d *Detail) SetBody(body string) {
	switch {
	case strings.TrimSpace(body) == "":
	case json.Valid([]byte(body)):
		d.Gateway = json.RawMessage(body)
	default:
		d.Body = body
	}
}

// JSON returns the audit payload: the gateway's diagnostic when it sent JSON,
// otherwise the engine's own summary of the call.
func (d Detail) JSON() json.RawMessage {
	if len(d.Gateway) > 0 {
		return d.Gateway
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
