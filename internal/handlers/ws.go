package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/deception-api/internal/explain"
)

const (
	frameChunk = "chunk"
	frameDone  = "done"
	frameError = "error"

	wsWriteWait = 10 * time.Second
	wsReadWait  = 60 * time.Second
)

type wsFrame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) upgrader() *websocket.Upgrader {
	origin := h.opts.CORSOrigin
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return origin == "*" || r.Header.Get("Origin") == "" || r.Header.Get("Origin") == origin
		},
	}
}

// ExplainWS streams an explanation over a WebSocket. The client sends one
// {"transcript": "..."} message and receives chunk frames followed by a done
// frame, or a single error frame.
func (h *Handler) ExplainWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := log.Ctx(r.Context())
	send := func(f wsFrame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(f)
	}
	fail := func(msg string) {
		_ = send(wsFrame{Type: frameError, Error: msg})
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	var req explainRequest
	if err := conn.ReadJSON(&req); err != nil {
		logger.Debug().Err(err).Msg("websocket read failed")
		fail("Invalid JSON message")
		return
	}
	if req.Transcript == nil {
		fail("No transcript provided")
		return
	}
	if h.explainer == nil {
		fail("Explanation service not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.ExplainTimeout)
	defer cancel()

	emit := func(chunk string) error {
		return send(wsFrame{Type: frameChunk, Text: chunk})
	}
	if s, ok := h.explainer.(explain.Streamer); ok {
		err = s.ExplainStream(ctx, *req.Transcript, emit)
	} else {
		var text string
		if text, err = h.explainer.Explain(ctx, *req.Transcript); err == nil {
			err = emit(text)
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("Explanation failed")
		fail("Explanation failed (request " + RequestID(r.Context()) + ")")
		return
	}
	if err := send(wsFrame{Type: frameDone}); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
}
