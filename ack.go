package siox

import "net/http"

// Reply lets a handler pick the acknowledgement status and message
// explicitly. Returning a bare value is the same as Reply{Data: value}.
type Reply struct {
	Data    any
	Code    int
	Message string
}

// Envelope is the acknowledgement envelope sent back for a client event.
type Envelope struct {
	Code    int
	Message string
	Data    any
}

// Render returns the wire form of the envelope. Code defaults to 200;
// an empty message and nil data are left out entirely.
func (a Envelope) Render() map[string]any {
	code := a.Code
	if code == 0 {
		code = http.StatusOK
	}
	out := map[string]any{"code": code}
	if a.Message != "" {
		out["message"] = a.Message
	}
	if a.Data != nil {
		out["data"] = a.Data
	}
	return out
}
