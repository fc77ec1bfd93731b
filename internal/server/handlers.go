package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jeongseonghan/radiolink/internal/config"
	"github.com/jeongseonghan/radiolink/internal/fec"
	"github.com/jeongseonghan/radiolink/internal/frame"
	"github.com/jeongseonghan/radiolink/internal/link"
	"github.com/jeongseonghan/radiolink/internal/session"
)

// Handlers holds the HTTP API handlers.
type Handlers struct {
	workers map[frame.Module]*session.Worker
	wsHub   *WSHub
	logger  *log.Logger
}

// NewHandlers creates the API handlers over the module workers.
func NewHandlers(workers map[frame.Module]*session.Worker, logger *log.Logger) *Handlers {
	return &Handlers{
		workers: workers,
		wsHub:   NewWSHub(logger),
		logger:  logger,
	}
}

// Hub exposes the WebSocket hub so the daemon can pump session events
// into it.
func (h *Handlers) Hub() *WSHub { return h.wsHub }

func (h *Handlers) worker(w http.ResponseWriter, name string) (*session.Worker, bool) {
	mod, err := frame.ParseModule(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	wk, ok := h.workers[mod]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("module %s not configured", name))
		return nil, false
	}
	return wk, true
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// HandleTransmit queues a payload on a module. The payload travels
// base64-encoded in JSON; an optional profile pins the link to a ladder
// rung before the payload goes out.
func (h *Handlers) HandleTransmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Module  string                `json:"module"`
		Payload []byte                `json:"payload"`
		Profile *config.ProfileConfig `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}

	wk, ok := h.worker(w, req.Module)
	if !ok {
		return
	}

	if req.Profile != nil {
		p, err := req.Profile.Profile()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("requested profile: %w", err))
			return
		}
		if err := wk.RequestProfile(p); err != nil {
			code := http.StatusServiceUnavailable
			if errors.Is(err, link.ErrProfileNotInLadder) {
				code = http.StatusBadRequest
			}
			writeError(w, code, err)
			return
		}
	}

	id, err := wk.Submit(req.Payload)
	if err != nil {
		code := http.StatusServiceUnavailable
		if err == frame.ErrPayloadTooLarge {
			code = http.StatusRequestEntityTooLarge
		}
		writeError(w, code, err)
		return
	}

	h.logger.Info("transmit queued", "module", req.Module, "id", id, "bytes", len(req.Payload))
	writeJSON(w, map[string]interface{}{
		"id":     id.String(),
		"module": req.Module,
		"bytes":  len(req.Payload),
		"status": "queued",
	})
}

// HandleCancel removes a queued payload.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Module string `json:"module"`
		ID     string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse id: %w", err))
		return
	}

	wk, ok := h.worker(w, req.Module)
	if !ok {
		return
	}

	if !wk.Cancel(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("payload %s not queued", id))
		return
	}
	writeJSON(w, map[string]string{"id": id.String(), "status": "cancelled"})
}

// HandleStatus reports every module's link snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	statuses := make(map[string]session.LinkStatus, len(h.workers))
	for mod, wk := range h.workers {
		statuses[mod.String()] = wk.Status()
	}
	writeJSON(w, map[string]interface{}{"modules": statuses})
}

// HandleRates lists the supported coding rates and the default ladder.
func (h *Handlers) HandleRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rates := []map[string]interface{}{}
	for _, rate := range []fec.CodingRate{fec.Rate12, fec.Rate23, fec.Rate34, fec.Rate56} {
		rates = append(rates, map[string]interface{}{
			"rate":             rate.String(),
			"block_data_bytes": rate.BlockDataBytes(),
		})
	}
	ladder := []string{}
	for _, p := range link.DefaultLadder() {
		ladder = append(ladder, p.String())
	}
	writeJSON(w, map[string]interface{}{"rates": rates, "ladder": ladder})
}

// HandleReset re-arms a failed module link.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Module string `json:"module"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}

	wk, ok := h.worker(w, req.Module)
	if !ok {
		return
	}

	wk.Reset()
	st := wk.Status()
	h.wsHub.BroadcastStatus(st)
	h.logger.Info("link reset via api", "module", req.Module)
	writeJSON(w, st)
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade", "err", err)
		return
	}

	h.wsHub.AddClient(conn)

	// Drain client messages; the stream is push-only.
	go func() {
		defer h.wsHub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
