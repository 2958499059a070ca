package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/cjeanneret/FocusGo/internal/config"
	"github.com/cjeanneret/FocusGo/internal/hw/stepper"
	"github.com/cjeanneret/FocusGo/internal/logic/geometry"
	"github.com/cjeanneret/FocusGo/internal/logic/rig"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Rig is the command surface the handlers drive.
type Rig interface {
	Settings() config.Settings
	SetSettings(config.Settings) error
	Status() rig.Status
	MoveMotor(steps int32) error
	StartStack() error
	Photo() error
	Stop()
	Dispatch(rig.Command) rig.Reply
}

// MoveRequest is the body of POST /move. Exactly one field must be set.
type MoveRequest struct {
	Steps   *int32   `json:"steps,omitempty"`
	Degrees *float64 `json:"degrees,omitempty"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Events   *EventBroadcaster
	Rig      Rig
	Steps    *geometry.StepsCalculator
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If r is nil, action and config endpoints return 503 Service Unavailable.
func NewHandlers(events *EventBroadcaster, r Rig, steps *geometry.StepsCalculator, staticFS fs.FS) *Handlers {
	return &Handlers{
		Events:   events,
		Rig:      r,
		Steps:    steps,
		staticFS: staticFS,
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) available(w http.ResponseWriter) bool {
	if h.Rig == nil {
		http.Error(w, "rig not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleGetConfig returns the live settings as JSON.
func (h *Handlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.Rig.Settings())
}

// HandleSetConfig handles POST /config with a full Settings document.
func (h *Handlers) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var s config.Settings
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.Rig.SetSettings(s); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, stepper.ErrMotionInProgress) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, h.Rig.Settings())
}

// HandleStatus returns a motor and stack snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.Rig.Status())
}

// stepsFor resolves a MoveRequest to a signed step count.
func (h *Handlers) stepsFor(req MoveRequest) (int32, error) {
	switch {
	case req.Steps != nil && req.Degrees != nil:
		return 0, errors.New("give either steps or degrees, not both")
	case req.Steps != nil:
		return *req.Steps, nil
	case req.Degrees != nil:
		d := *req.Degrees
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return 0, errors.New("degrees must be a finite number")
		}
		if h.Steps == nil {
			return 0, errors.New("degrees are not supported without a motor geometry")
		}
		return h.Steps.StepsFromDegrees(d), nil
	}
	return 0, errors.New("steps or degrees is required")
}

// HandleMove handles POST /move.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req MoveRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	steps, err := h.stepsFor(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.startAction(w, func() error { return h.Rig.MoveMotor(steps) })
}

// HandleStack handles POST /stack.
func (h *Handlers) HandleStack(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	h.startAction(w, h.Rig.StartStack)
}

// HandlePhoto handles POST /photo.
func (h *Handlers) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	h.startAction(w, h.Rig.Photo)
}

// HandleStop handles POST /stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	h.Rig.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handlers) startAction(w http.ResponseWriter, start func() error) {
	if err := start(); err != nil {
		if errors.Is(err, rig.ErrBusy) {
			http.Error(w, "an action is already in progress", http.StatusConflict)
			return
		}
		log.Printf("web: action failed to start: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleEvents handles GET /events: the retained activity log as a JSON array.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Events.History())
}

// HandleStatusStream handles GET /status/stream for SSE. The retained
// history is sent first.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Events.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
