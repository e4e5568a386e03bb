// Package api exposes the pipeline's host commands over HTTP and pushes
// detection events to WebSocket clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/PoseStreamer/internal/capture"
	"github.com/bryanchriswhite/PoseStreamer/internal/config"
	"github.com/bryanchriswhite/PoseStreamer/internal/dispatch"
	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pipeline"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
	"github.com/bryanchriswhite/PoseStreamer/internal/posture"
)

// maxImageBytes bounds uploaded images
const maxImageBytes = 32 << 20

// Controller is the pipeline command surface served by the API
type Controller interface {
	Initialize(mode pose.Mode, backend pose.Backend) error
	SetBackend(backend pose.Backend) error
	Dispose()
	StartCapture(ctx context.Context, useFrontFacing bool) error
	StopCapture() error
	SwitchCamera(ctx context.Context) error
	DetectEncoded(data []byte) (pose.DetectionResult, error)
	ResizeSurface(width, height int) error
	Subscribe(obs dispatch.Observer) func()
	Sensors() ([]capture.SensorInfo, error)
	Status() pipeline.Status
}

// Stream serves the rendered overlay
type Stream interface {
	GetHTTPHandler() http.HandlerFunc
	GetSnapshotHandler() http.HandlerFunc
	GetStatsHandler() http.HandlerFunc
	GetViewerHandler() http.HandlerFunc
}

// PostureClassifier labels a whole-body photo
type PostureClassifier interface {
	ClassifyEncoded(data []byte) (posture.Prediction, error)
	Info() posture.ModelInfo
}

// postureExtensions are the upload names accepted by /api/posture
var postureExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".bmp": true}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	ctrl      Controller
	configMgr *config.Manager
	stream    Stream
	posture   PostureClassifier
	upgrader  websocket.Upgrader
	http      *http.Server
	eventsOut atomic.Uint64
	eventDrop atomic.Uint64
}

// NewServer creates a new API server. configMgr and stream may be nil.
func NewServer(ctrl Controller, configMgr *config.Manager, stream Stream) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		ctrl:      ctrl,
		configMgr: configMgr,
		stream:    stream,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// SetPostureClassifier enables the posture routes. Until then they report
// that no model is loaded.
func (s *Server) SetPostureClassifier(c PostureClassifier) {
	s.posture = c
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Engine lifecycle
	api.HandleFunc("/engine/initialize", s.handleInitialize).Methods("POST")
	api.HandleFunc("/engine/backend", s.handleSetBackend).Methods("POST")
	api.HandleFunc("/engine/dispose", s.handleDispose).Methods("POST")

	// Capture
	api.HandleFunc("/capture/start", s.handleStartCapture).Methods("POST")
	api.HandleFunc("/capture/stop", s.handleStopCapture).Methods("POST")
	api.HandleFunc("/capture/switch", s.handleSwitchCamera).Methods("POST")
	api.HandleFunc("/sensors", s.handleSensors).Methods("GET")

	// Detection
	api.HandleFunc("/detect", s.handleDetect).Methods("POST")
	api.HandleFunc("/events", s.handleEvents)

	// Posture classification
	api.HandleFunc("/posture", s.handlePosture).Methods("POST")
	api.HandleFunc("/posture/model", s.handlePostureModel).Methods("GET")

	// Overlay surface
	api.HandleFunc("/surface", s.handleResize).Methods("PUT")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config/{key}", s.handleGetConfigValue).Methods("GET")
	api.HandleFunc("/config/{key}", s.handleSetConfigValue).Methods("PUT")

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.stream != nil {
		s.router.HandleFunc("/stream", s.stream.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/snapshot.jpg", s.stream.GetSnapshotHandler()).Methods("GET")
		s.router.HandleFunc("/stats", s.stream.GetStatsHandler()).Methods("GET")
		s.router.HandleFunc("/", s.stream.GetViewerHandler()).Methods("GET")
	}
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves HTTP until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	logger.WithComponent("api").Info().Msgf("Starting server on http://localhost%s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusFor maps an error code to an HTTP status
func statusFor(code pose.Code) int {
	switch code {
	case pose.CodePermissionDenied:
		return http.StatusForbidden
	case pose.CodeCameraUnavailable:
		return http.StatusServiceUnavailable
	case pose.CodeWrongMode, pose.CodeEngineNotInitialized:
		return http.StatusConflict
	case pose.CodeConversion:
		return http.StatusBadRequest
	case pose.CodeConfigurationFailed, pose.CodeEngineBackend:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError sends a classified error as {code, message}
func writeError(w http.ResponseWriter, err error) {
	pe := pose.AsError(err)
	writeJSON(w, statusFor(pe.Code), pe.Wire())
}

// badRequest reports a malformed request; these are not pipeline errors
func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"code":    "BadRequest",
		"message": fmt.Sprintf(format, args...),
	})
}

func ok(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// decodeBody decodes an optional JSON body into v
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// HTTP Handlers

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode    pose.Mode    `json:"mode"`
		Backend pose.Backend `json:"backend"`
	}
	req.Mode = pose.ModeStream
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request: %v", err)
		return
	}

	if err := s.ctrl.Initialize(req.Mode, req.Backend); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (s *Server) handleSetBackend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Backend *pose.Backend `json:"backend"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request: %v", err)
		return
	}
	if req.Backend == nil {
		badRequest(w, "backend is required")
		return
	}

	if err := s.ctrl.SetBackend(*req.Backend); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (s *Server) handleDispose(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Dispose()
	ok(w)
}

func (s *Server) handleStartCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Front  bool   `json:"front"`
		Facing string `json:"facing"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request: %v", err)
		return
	}
	if req.Facing != "" {
		facing, err := capture.ParseFacing(req.Facing)
		if err != nil {
			badRequest(w, "%v", err)
			return
		}
		req.Front = facing == capture.FacingFront
	}

	// the session outlives the request
	if err := s.ctrl.StartCapture(context.Background(), req.Front); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (s *Server) handleStopCapture(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StopCapture(); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (s *Server) handleSwitchCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.SwitchCamera(context.Background()); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.ctrl.Sensors()
	if err != nil {
		writeError(w, err)
		return
	}
	if sensors == nil {
		sensors = []capture.SensorInfo{}
	}
	writeJSON(w, http.StatusOK, sensors)
}

// handleDetect accepts the encoded image as the raw body or as the "image"
// field of a multipart form
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)

	var data []byte
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		data, err = readFormImage(r)
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		badRequest(w, "failed to read image: %v", err)
		return
	}
	if len(data) == 0 {
		badRequest(w, "image body is empty")
		return
	}

	result, err := s.ctrl.DetectEncoded(data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pose.NewResultEvent(result))
}

func readFormImage(r *http.Request) ([]byte, error) {
	data, _, err := readFormFile(r)
	return data, err
}

func readFormFile(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	return data, header.Filename, err
}

func (s *Server) postureUnavailable(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"code":    "ModelNotLoaded",
		"message": "posture model not loaded",
	})
}

// handlePosture classifies the "image" field of a multipart form, or the raw
// body
func (s *Server) handlePosture(w http.ResponseWriter, r *http.Request) {
	if s.posture == nil {
		s.postureUnavailable(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)

	var data []byte
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var name string
		data, name, err = readFormFile(r)
		if err == nil && !postureExtensions[strings.ToLower(filepath.Ext(name))] {
			badRequest(w, "invalid file type %q, allowed: png, jpg, jpeg, bmp", name)
			return
		}
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		badRequest(w, "failed to read image: %v", err)
		return
	}
	if len(data) == 0 {
		badRequest(w, "image body is empty")
		return
	}

	pred, err := s.posture.ClassifyEncoded(data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handlePostureModel(w http.ResponseWriter, r *http.Request) {
	if s.posture == nil {
		s.postureUnavailable(w)
		return
	}
	writeJSON(w, http.StatusOK, s.posture.Info())
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request: %v", err)
		return
	}
	if err := s.ctrl.ResizeSurface(req.Width, req.Height); err != nil {
		badRequest(w, "%v", err)
		return
	}
	ok(w)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "configuration unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleGetConfigValue(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "configuration unavailable", http.StatusNotFound)
		return
	}
	key := mux.Vars(r)["key"]
	value, err := s.configMgr.GetValue(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

// handleSetConfigValue persists a value; it takes effect on the next start
func (s *Server) handleSetConfigValue(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "configuration unavailable", http.StatusNotFound)
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid request: %v", err)
		return
	}
	if err := s.configMgr.Set(mux.Vars(r)["key"], req.Value); err != nil {
		badRequest(w, "%v", err)
		return
	}
	ok(w)
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	pipeline.Status
	EventsSent    uint64 `json:"eventsSent"`
	EventsDropped uint64 `json:"eventsDropped"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        s.ctrl.Status(),
		EventsSent:    s.eventsOut.Load(),
		EventsDropped: s.eventDrop.Load(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
