package handlers

import "net/http"

// Routes returns the service's HTTP handler with CORS, request ids and
// access logging applied to every route.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Health)
	mux.HandleFunc("POST /audio-predict", h.AudioPredict)
	mux.HandleFunc("POST /predict", h.Predict)
	mux.HandleFunc("POST /explain", h.Explain)
	mux.HandleFunc("GET /ws/explain", h.ExplainWS)

	return WithRequestID(AccessLog(EnableCORS(h.opts.CORSOrigin, mux)))
}
