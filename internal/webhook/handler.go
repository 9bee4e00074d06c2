package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

// Handler serves POST /webhook/{name}.
type Handler struct {
	dispatcher Dispatcher
	logger     *slog.Logger

	// endpoints maps hook names to their configuration.
	endpoints map[string]*EndpointConfig
}

// New builds a Handler for cfg. A nil logger uses slog.Default.
func New(cfg Config, dispatcher Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	endpoints := make(map[string]*EndpointConfig, len(cfg.Endpoints))
	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[ep.Name] = ep
	}
	return &Handler{dispatcher: dispatcher, logger: logger, endpoints: endpoints}
}

// Len reports the number of configured hooks.
func (h *Handler) Len() int { return len(h.endpoints) }

// Routes returns a router to mount at /webhook.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{name}", h.handleWebhook)
	return r
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	endpoint, ok := h.endpoints[name]
	if !ok {
		respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(endpoint.SignatureHeader)
	if signature == "" {
		h.logger.Warn("webhook signature missing", "webhook", name, "header", endpoint.SignatureHeader)
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := verifyHMACSignature(body, signature, endpoint.Secret); err != nil {
		h.logger.Warn("webhook signature verification failed",
			"webhook", name,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	cmd := protocol.Command{
		Action: endpoint.Action,
		Target: endpoint.Target,
		Params: protocol.NewMap().
			Set("webhook", protocol.String(name)).
			Set("payload", payloadValue(body)),
	}
	start := time.Now()
	res := h.dispatcher.Run(r.Context(), cmd)

	h.logger.Info("webhook dispatched",
		"webhook", name,
		"action", endpoint.Action,
		"dispatch_id", res.ID,
		"status", res.Envelope.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("X-Dispatch-ID", res.ID)
	respondJSON(w, http.StatusOK, res.Envelope)
}

// payloadValue decodes a JSON body into a Value. Other bodies, including an
// empty one, are carried as a string.
func payloadValue(body []byte) protocol.Value {
	var v protocol.Value
	if len(body) > 0 && json.Valid(body) {
		if err := v.UnmarshalJSON(body); err == nil {
			return v
		}
	}
	return protocol.String(string(body))
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
