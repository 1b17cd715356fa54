// Package status renders a JSON health snapshot of the scheduling
// simulation's domain (§4.8's status surface).
package status

import (
	"encoding/json"
	"net/http"
)

// State is the coarse health state the status handler reports.
type State int

const (
	// StateRunning means the tick driver is advancing normally.
	StateRunning State = iota
	// StateDegraded means at least one CPU's runqueue is overloaded or the
	// most recent telemetry publish returned an error.
	StateDegraded
	// StateHalted means the tick driver is not advancing (paused or
	// fatally errored).
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Controller exposes the status surface required by the health handler.
type Controller interface {
	State() State
	LastTelemetryError() error
	LastAdmissionError() error
}

// Snapshot captures the reported controller status.
type Snapshot struct {
	State          string `json:"state"`
	TelemetryError string `json:"telemetryError"`
	AdmissionError string `json:"admissionError"`
}

// Handler renders controller health information as JSON.
type Handler struct {
	controller Controller
}

// NewHandler constructs a Handler that proxies controller status.
func NewHandler(controller Controller) *Handler {
	return &Handler{controller: controller}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(writer http.ResponseWriter, _ *http.Request) {
	if h == nil || h.controller == nil {
		http.Error(writer, "controller unavailable", http.StatusServiceUnavailable)

		return
	}

	snapshot := Snapshot{State: h.controller.State().String()}

	if err := h.controller.LastTelemetryError(); err != nil {
		snapshot.TelemetryError = err.Error()
	}

	if err := h.controller.LastAdmissionError(); err != nil {
		snapshot.AdmissionError = err.Error()
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		http.Error(writer, "marshal status", http.StatusInternalServerError)

		return
	}

	writer.Header().Set("Content-Type", "application/json")
	_, _ = writer.Write(payload)
}
