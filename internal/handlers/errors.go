package handlers

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind classifies a request failure.
type Kind int

const (
	// KindUnavailable means a required model or backend is not loaded.
	KindUnavailable Kind = iota
	// KindBadRequest means a required input is missing or malformed.
	KindBadRequest
	// KindInternal is any other failure while serving the request.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}

// Status is the HTTP status code reported for k.
func (k Kind) Status() int {
	if k == KindBadRequest {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Error is a failure with a fixed client-facing message. Err, when set, is
// logged but never sent to the client.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func unavailable(msg string) *Error { return &Error{Kind: KindUnavailable, Message: msg} }
func badRequest(msg string) *Error  { return &Error{Kind: KindBadRequest, Message: msg} }

func internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, e *Error) {
	id := RequestID(r.Context())
	var ev *zerolog.Event
	switch e.Kind {
	case KindInternal:
		ev = log.Ctx(r.Context()).Error()
	case KindUnavailable:
		ev = log.Ctx(r.Context()).Warn()
	default:
		ev = log.Ctx(r.Context()).Debug()
	}
	ev.Err(e.Err).Str("kind", e.Kind.String()).Str("path", r.URL.Path).Msg(e.Message)

	resp := errorResponse{Error: e.Message}
	if e.Kind == KindInternal {
		resp.RequestID = id
	}
	writeJSON(w, e.Kind.Status(), resp)
}
