package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/koios/gencast/internal/config"
	"github.com/koios/gencast/internal/controller"
	"github.com/koios/gencast/internal/notify"
	"github.com/koios/gencast/internal/progress"
	"github.com/koios/gencast/pkg/models"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies carrying base64 images
const maxBodyBytes = 64 << 20

// Controller is the session control surface, implemented by *controller.Controller
type Controller interface {
	Submitter
	RefreshDevices(ctx context.Context) ([]string, error)
	Devices() []string
	StartDevice(deviceName string) bool
	Stop() bool
	Status() controller.Status
}

// CastHandler handles HTTP requests for session control and submissions
type CastHandler struct {
	controller  Controller
	submissions *SubmissionHandler
	progress    *progress.Tracker
	settings    *config.SettingsStore
	notices     *notify.Buffer
	logger      *zap.Logger
}

// NewCastHandler creates a new cast handler. progress, settings and notices
// may be nil; their routes then answer 404.
func NewCastHandler(ctrl Controller, tracker *progress.Tracker, settings *config.SettingsStore, notices *notify.Buffer, logger *zap.Logger) *CastHandler {
	return &CastHandler{
		controller:  ctrl,
		submissions: NewSubmissionHandler(ctrl, logger),
		progress:    tracker,
		settings:    settings,
		notices:     notices,
		logger:      logger,
	}
}

// RegisterRoutes registers the control API routes
func (h *CastHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/devices", h.handleDevices)
	mux.HandleFunc("/devices/refresh", h.handleDevicesRefresh)
	mux.HandleFunc("/cast/start", h.handleCastStart)
	mux.HandleFunc("/cast/stop", h.handleCastStop)
	mux.HandleFunc("/cast/status", h.handleCastStatus)
	mux.HandleFunc("/submit", h.handleSubmit)
	mux.HandleFunc("/progress", h.handleProgress)
	mux.HandleFunc("/settings", h.handleSettings)
	mux.HandleFunc("/notices", h.handleNotices)
}

// handleHealth handles GET /health
func (h *CastHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "gencast",
		"casting": h.controller.Status().Active,
	})
}

// handleDevices handles GET /devices - returns the cached device list
func (h *CastHandler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices := h.controller.Devices()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
	h.logger.Debug("Served device list", zap.Int("count", len(devices)))
}

// handleDevicesRefresh handles POST /devices/refresh - rescans the network
func (h *CastHandler) handleDevicesRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.logger.Info("Refreshing cast devices...")

	devices, err := h.controller.RefreshDevices(r.Context())
	if err != nil {
		h.logger.Error("Failed to refresh cast devices", zap.Error(err))
		http.Error(w, "Failed to refresh devices", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"devices": devices,
	})
}

// StartRequest is the body of POST /cast/start
type StartRequest struct {
	Device string `json:"device"`
}

// handleCastStart handles POST /cast/start - starts casting to a discovered device
func (h *CastHandler) handleCastStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request StartRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if request.Device == "" {
		http.Error(w, "device is required", http.StatusBadRequest)
		return
	}

	if !h.controller.StartDevice(request.Device) {
		for _, d := range h.controller.Devices() {
			if d == request.Device {
				http.Error(w, "Previous cast session is still stopping", http.StatusConflict)
				return
			}
		}
		http.Error(w, "Cast device not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, h.controller.Status())
}

// handleCastStop handles POST /cast/stop
func (h *CastHandler) handleCastStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clean := h.controller.Stop()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "stopped",
		"clean":  clean,
	})
}

// handleCastStatus handles GET /cast/status
func (h *CastHandler) handleCastStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.controller.Status())
}

// handleSubmit handles POST /submit - enqueues one submission
func (h *CastHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request models.SubmissionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	queued, err := h.submissions.Handle(r.Context(), &request)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to submit", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{"queued": queued})
}

// handleProgress handles:
// - POST /progress - records the current preview of a running job
// - DELETE /progress?job_id= - marks the job finished
func (h *CastHandler) handleProgress(w http.ResponseWriter, r *http.Request) {
	if h.progress == nil {
		http.Error(w, "Progress tracking disabled", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var request models.ProgressRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if request.JobID == "" {
			http.Error(w, "job_id is required", http.StatusBadRequest)
			return
		}
		img, err := decodeImage(request.Image)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		p := models.Progress{
			JobID:      request.JobID,
			PreviewSeq: request.PreviewSeq,
			Image:      img,
			Params:     request.Params,
		}
		if request.StartedAt != nil {
			p.StartedAt = *request.StartedAt
		}
		h.progress.Update(p)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		jobID := r.URL.Query().Get("job_id")
		if jobID == "" {
			http.Error(w, "job_id is required", http.StatusBadRequest)
			return
		}
		h.progress.Finish(jobID)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// SettingsUpdate is the body of PUT /settings. Omitted fields are unchanged.
type SettingsUpdate struct {
	Port            *int    `json:"port"`
	ResumeOnStart   *bool   `json:"resume_on_start"`
	CastLivePreview *bool   `json:"cast_live_preview"`
	DeviceName      *string `json:"device_name"`
	Receiver        *string `json:"receiver"`
}

func (u SettingsUpdate) apply(s *config.Settings) {
	if u.Port != nil {
		s.Port = *u.Port
	}
	if u.ResumeOnStart != nil {
		s.ResumeOnStart = *u.ResumeOnStart
	}
	if u.CastLivePreview != nil {
		s.CastLivePreview = *u.CastLivePreview
	}
	if u.DeviceName != nil {
		s.DeviceName = *u.DeviceName
	}
	if u.Receiver != nil {
		s.Receiver = *u.Receiver
	}
}

// handleSettings handles GET and PUT /settings
func (h *CastHandler) handleSettings(w http.ResponseWriter, r *http.Request) {
	if h.settings == nil {
		http.Error(w, "Settings disabled", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, h.settings.Get())

	case http.MethodPut:
		var update SettingsUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		settings, err := h.settings.Update(update.apply)
		if err != nil {
			h.logger.Warn("Rejected settings update", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Info("Settings updated")
		h.writeJSON(w, http.StatusOK, settings)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleNotices handles GET /notices - returns recent user notices
func (h *CastHandler) handleNotices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.notices == nil {
		http.Error(w, "Notices disabled", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, h.notices.Recent())
}

func (h *CastHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
