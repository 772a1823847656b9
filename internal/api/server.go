package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openvigil/vigil/detection-server/internal/capture"
	"github.com/openvigil/vigil/detection-server/internal/feed"
	"github.com/openvigil/vigil/detection-server/internal/frameslot"
	"github.com/openvigil/vigil/detection-server/internal/logger"
	"github.com/openvigil/vigil/detection-server/internal/session"
	"github.com/openvigil/vigil/detection-server/pkg/types"
)

const logModule = "API"

// Server exposes the detection control plane over HTTP: session lifecycle,
// health probes, the MJPEG preview, and the live detection feed.
type Server struct {
	sup  *session.Supervisor
	slot *frameslot.Slot
	hub  *feed.Hub
	open capture.Opener

	inactiveJPEG []byte
	waitingJPEG  []byte
}

// NewServer wires the HTTP layer to the supervisor and its frame/event
// surfaces. The opener is used by the camera connectivity probe.
func NewServer(sup *session.Supervisor, slot *frameslot.Slot, hub *feed.Hub, open capture.Opener) *Server {
	s := &Server{
		sup:  sup,
		slot: slot,
		hub:  hub,
		open: open,
	}
	s.inactiveJPEG = placeholderJPEG("Camera feed not available")
	s.waitingJPEG = placeholderJPEG("Waiting for camera feed...")
	return s
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/test-camera", s.handleTestCamera)
	mux.HandleFunc("/video_feed", s.handleVideoFeed)
	mux.HandleFunc("/detections/recent", s.handleRecentDetections)
	mux.HandleFunc("/ws/detections", s.handleDetectionsWS)

	return corsMiddleware(mux)
}

// corsMiddleware allows browser clients on other origins to reach every
// route, matching the permissive policy of the original control API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// apiResponse is the envelope for the lifecycle endpoints.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.sup.State() == types.StateRunning {
		logger.Warn(logModule, "Attempted to start detection when already running")
		writeJSONWithStatus(w, apiResponse{Success: false, Message: "Detection is already running"}, http.StatusBadRequest)
		return
	}

	// Person alerts default to on unless the payload disables them.
	settings := types.Settings{EnablePersonDetection: true}
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		logger.Error(logModule, "Invalid start payload: %v", err)
		writeJSONWithStatus(w, apiResponse{Success: false, Message: fmt.Sprintf("Server error: %v", err)}, http.StatusInternalServerError)
		return
	}
	logger.Info(logModule, "Received start request for camera %q", settings.CameraURL)

	if settings.CameraURL == "" {
		logger.Error(logModule, "No camera URL provided in start request")
		writeJSONWithStatus(w, apiResponse{Success: false, Message: "Camera URL is required"}, http.StatusBadRequest)
		return
	}

	if settings.NtfyTopic == "" {
		logger.Warn(logModule, "Empty NTFY topic provided - notifications will not be sent")
	}
	if settings.EnablePersonDetection {
		logger.Info(logModule, "Person detection notifications are enabled")
	}

	// The bearer token is not validated here; it only marks the session
	// as belonging to an authenticated client.
	if r.Header.Get("Authorization") != "" {
		settings.UserID = "user-from-token"
	}

	if err := s.sup.Start(settings); err != nil {
		logger.Error(logModule, "Failed to start detection: %v", err)
		writeJSONWithStatus(w, apiResponse{Success: false, Message: startFailureMessage(err)}, http.StatusBadRequest)
		return
	}

	writeJSON(w, apiResponse{Success: true, Message: "Detection started successfully"})
}

// startFailureMessage maps supervisor errors onto the messages browser
// clients already display.
func startFailureMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		return "Detection is already running"
	case errors.Is(err, capture.ErrMissingLocator):
		return "Camera URL is required"
	default:
		return err.Error()
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.sup.Stop(); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			logger.Warn(logModule, "Attempted to stop detection when not running")
			writeJSONWithStatus(w, apiResponse{Success: false, Message: "Detection is not running"}, http.StatusBadRequest)
			return
		}
		logger.Error(logModule, "Failed to stop detection: %v", err)
		writeJSONWithStatus(w, apiResponse{Success: false, Message: err.Error()}, http.StatusBadRequest)
		return
	}

	writeJSON(w, apiResponse{Success: true, Message: "Detection stopped successfully"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.sup.Status()
	writeJSON(w, map[string]any{
		"detection_active": st.Active,
		"model_loaded":     st.ModelLoaded,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.sup.Status()
	var age any
	if st.Active {
		age = st.HeartbeatAge.Seconds()
	}
	writeJSON(w, map[string]any{
		"status":            "healthy",
		"detection_active":  st.Active,
		"monitoring_active": st.MonitorActive,
		"heartbeat_age":     age,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sup.Heartbeat()
	writeJSON(w, map[string]any{
		"success":       true,
		"heartbeat_age": s.sup.HeartbeatAge().Seconds(),
	})
}

func (s *Server) handleTestCamera(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload) == 0 {
		logger.Error(logModule, "No data provided in test-camera request")
		writeJSONWithStatus(w, apiResponse{Success: false, Message: "No camera data provided"}, http.StatusBadRequest)
		return
	}

	url, _ := payload["url"].(string)
	port, _ := payload["port"].(string)
	logger.Info(logModule, "Testing camera connection to URL: %s, Port: %s", url, port)

	if url == "" {
		logger.Error(logModule, "No camera URL provided")
		writeJSONWithStatus(w, apiResponse{Success: false, Message: "Camera URL is required"}, http.StatusBadRequest)
		return
	}

	loc, err := capture.ParseLocator(url, port)
	if err != nil {
		writeJSONWithStatus(w, apiResponse{Success: false, Message: "Camera URL is required"}, http.StatusBadRequest)
		return
	}
	logger.Info(logModule, "Complete stream URL: %s", loc)

	src, err := s.open(loc)
	if err != nil {
		logger.Error(logModule, "Failed to connect to camera at %s: %v", loc, err)
		writeJSONWithStatus(w, apiResponse{Success: false, Message: fmt.Sprintf("Failed to connect to camera at %s", loc)}, http.StatusBadRequest)
		return
	}
	_, readErr := src.Read()
	_ = src.Close()

	if readErr != nil {
		logger.Error(logModule, "Connected to camera but failed to read frame: %v", readErr)
		writeJSONWithStatus(w, apiResponse{Success: false, Message: "Connected to camera but failed to read frame"}, http.StatusBadRequest)
		return
	}

	logger.Info(logModule, "Camera connection successful")
	writeJSON(w, apiResponse{Success: true, Message: "Camera connection successful"})
}

func (s *Server) handleRecentDetections(w http.ResponseWriter, r *http.Request) {
	events := s.hub.Recent()
	writeJSON(w, map[string]any{
		"detections": events,
		"count":      len(events),
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error(logModule, "Failed to encode response: %v", err)
	}
}
