package wire

import (
	"encoding/json"
	"fmt"

	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/scroll"
)

// DefaultPort is the conventional TCP port for the protocol.
const DefaultPort = 9564

// Protocol operations. Unwatch is a protocol concern only: it cancels a
// subscription started by a watch request with the same tag.
const (
	OpRead    = "read"
	OpWrite   = "write"
	OpList    = "list"
	OpWatch   = "watch"
	OpUnwatch = "unwatch"
	OpClose   = "close"
)

// Request is a client → server message. Tag is chosen by the client,
// monotonically increasing, and echoed in every response it provokes.
type Request struct {
	Tag  int64          `json:"tag"`
	Op   string         `json:"op"`
	Path string         `json:"path,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Response is a server → client message. Event marks a pushed watch
// emission rather than a direct reply.
type Response struct {
	Tag    int64          `json:"tag"`
	OK     bool           `json:"ok"`
	Scroll *scroll.Scroll `json:"scroll,omitempty"`
	Paths  []string       `json:"paths,omitempty"`
	Error  string         `json:"error,omitempty"`
	Code   string         `json:"code,omitempty"`
	Event  bool           `json:"event,omitempty"`
}

// EncodeRequest serializes r as one newline-terminated frame.
func EncodeRequest(r *Request) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode request: %w", err)
	}
	return append(raw, '\n'), nil
}

// DecodeRequest parses a frame into a request.
func DecodeRequest(frame []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(frame, &r); err != nil {
		return nil, fmt.Errorf("wire: decode request: %w", err)
	}
	return &r, nil
}

// EncodeResponse serializes r as one newline-terminated frame.
func EncodeResponse(r *Response) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("wire: encode response: %w", err)
	}
	return append(raw, '\n'), nil
}

// DecodeResponse parses a frame into a response.
func DecodeResponse(frame []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(frame, &r); err != nil {
		return nil, fmt.Errorf("wire: decode response: %w", err)
	}
	return &r, nil
}

// errorResponse maps a namespace failure onto the wire, preserving its
// identity via the stable code.
func errorResponse(tag int64, err error) *Response {
	return &Response{
		Tag:   tag,
		OK:    false,
		Error: err.Error(),
		Code:  string(ns.CodeOf(err)),
	}
}

// responseError reconstructs the namespace failure carried by r.
// Unknown codes collapse to internal.
func responseError(r *Response) error {
	return ns.FromCode(ns.Code(r.Code), r.Error)
}
