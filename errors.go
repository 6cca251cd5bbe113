package easel

import (
	"fmt"

	"github.com/andrew-d/easel/protocol"
)

// TransportError reports a failed poll or image fetch. It is never fatal: the
// poll loop backs off and retries.
type TransportError struct {
	Op         string // "poll" or "image"
	URL        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HandlerArgumentError reports a command whose payload does not fit its
// handler, such as a wrong field count or a non-numeric coordinate.
type HandlerArgumentError struct {
	Mode    protocol.Mode
	Kind    protocol.ShapeKind
	Payload string
	Err     error
}

func (e *HandlerArgumentError) Error() string {
	payload := e.Payload
	if len(payload) > 64 {
		payload = payload[:64] + "..."
	}
	return fmt.Sprintf("%s %s [%s]: %v", e.Mode, e.Kind, payload, e.Err)
}

func (e *HandlerArgumentError) Unwrap() error { return e.Err }
