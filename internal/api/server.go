package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"handyhub/internal/auth"
	"handyhub/internal/config"
	"handyhub/internal/lifecycle"
	"handyhub/internal/matching"
	"handyhub/internal/models"
	"handyhub/internal/photos"
	"handyhub/internal/ratelimit"
	"handyhub/internal/realtime"
	"handyhub/internal/store"
	"handyhub/internal/telemetry"
)

// Server wires HTTP handlers for the marketplace API.
type Server struct {
	cfg      config.Config
	store    *store.Store
	machine  *lifecycle.Machine
	matching *matching.Service
	photos   *photos.Service
	gateway  *realtime.Gateway
	verifier *auth.Verifier
	limiter  *ratelimit.ActorBucket
	log      *slog.Logger
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, machine *lifecycle.Machine, match *matching.Service,
	ph *photos.Service, gw *realtime.Gateway, verifier *auth.Verifier, limiter *ratelimit.ActorBucket, log *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		machine:  machine,
		matching: match,
		photos:   ph,
		gateway:  gw,
		verifier: verifier,
		limiter:  limiter,
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	// The websocket gateway authenticates itself from the URL token.
	r.Get("/ws", s.gateway.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware)

		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/nearby", s.handleNearbyJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/status", s.handleTransition)
		r.Get("/jobs/{id}/history", s.handleHistory)
		r.Post("/jobs/{id}/messages", s.handleSendMessage)
		r.Get("/jobs/{id}/messages", s.handleListMessages)
		r.Post("/jobs/{id}/photos", s.handleUploadPhoto)
		r.Get("/workers/nearby", s.handleNearbyWorkers)
		r.Post("/workers/availability", s.handleAvailability)
	})

	return r
}

type createJobRequest struct {
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Address     string     `json:"address"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Urgency     string     `json:"urgency"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok || claims.Role != models.RoleCustomer {
		writeError(w, models.Forbidden("only customers create jobs"))
		return
	}
	if !s.allow(w, r, claims.SubjectID) {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Category == "" {
		http.Error(w, "category is required", http.StatusBadRequest)
		return
	}
	if req.Urgency != "" && req.Urgency != models.UrgencyImmediate && req.Urgency != models.UrgencyScheduled {
		http.Error(w, "urgency must be immediate or scheduled", http.StatusBadRequest)
		return
	}

	job, err := s.machine.Create(r.Context(), claims.SubjectID, lifecycle.CreateParams{
		Category:    req.Category,
		Description: req.Description,
		Address:     req.Address,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Urgency:     req.Urgency,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	job, err := s.store.FetchJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.log.Error("fetch job", "err", err)
		writeError(w, models.Internal(err))
		return
	}
	if job == nil {
		writeError(w, models.NotFound("job not found"))
		return
	}
	if !canViewJob(job, claims) {
		writeError(w, models.Forbidden("not allowed to view this job"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// canViewJob admits the job's parties, admins, and any worker looking at a
// still-unclaimed pending job (the accept flow needs the detail view).
func canViewJob(job *models.Job, claims auth.Claims) bool {
	switch {
	case claims.Role == models.RoleAdmin:
		return true
	case job.CustomerID == claims.SubjectID:
		return true
	case job.WorkerID != nil && *job.WorkerID == claims.SubjectID:
		return true
	case claims.Role == models.RoleWorker && job.Status == models.StatusPending && job.WorkerID == nil:
		return true
	}
	return false
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	if !s.allow(w, r, claims.SubjectID) {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}

	job, err := s.machine.Transition(r.Context(), chi.URLParam(r, "id"), claims.SubjectID, claims.Role, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	jobID := chi.URLParam(r, "id")
	job, err := s.store.FetchJob(r.Context(), jobID)
	if err != nil {
		writeError(w, models.Internal(err))
		return
	}
	if job == nil {
		writeError(w, models.NotFound("job not found"))
		return
	}
	if !canViewJob(job, claims) {
		writeError(w, models.Forbidden("not allowed to view this job"))
		return
	}
	history, err := s.store.ListStatusHistory(r.Context(), jobID)
	if err != nil {
		s.log.Error("list status history", "err", err)
		writeError(w, models.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleNearbyJobs(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	if claims.Role != models.RoleWorker {
		writeError(w, models.Forbidden("worker role required"))
		return
	}

	lat, lng, ok := coords(r)
	if !ok {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}
	radius := queryFloat(r, "radius_km", s.cfg.DefaultRadiusKm)
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", s.cfg.NearbyPageLimit)

	jobs, err := s.matching.NearbyJobs(r.Context(), lat, lng, radius, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "page": page})
}

func (s *Server) handleNearbyWorkers(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := coords(r)
	if !ok {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}
	category := r.URL.Query().Get("category")
	if category == "" {
		http.Error(w, "category is required", http.StatusBadRequest)
		return
	}
	radius := queryFloat(r, "radius_km", s.cfg.DefaultRadiusKm)

	workers, err := s.matching.NearbyWorkers(r.Context(), lat, lng, category, radius)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Body == "" {
		http.Error(w, "body is required", http.StatusBadRequest)
		return
	}

	msg, err := s.machine.SendMessage(r.Context(), chi.URLParam(r, "id"), claims.SubjectID, claims.Role, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	msgs, err := s.machine.Messages(r.Context(), chi.URLParam(r, "id"), claims.SubjectID, claims.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.PhotoMaxBytes)
	if err := r.ParseMultipartForm(s.cfg.PhotoMaxBytes); err != nil {
		http.Error(w, "photo too large or malformed form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("photo")
	if err != nil {
		http.Error(w, "photo field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read photo", http.StatusBadRequest)
		return
	}

	photo, err := s.photos.Attach(r.Context(), chi.URLParam(r, "id"), claims.SubjectID, claims.Role, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

type availabilityRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	if claims.Role != models.RoleWorker {
		writeError(w, models.Forbidden("worker role required"))
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Status != models.AvailabilityOnline && req.Status != models.AvailabilityOffline {
		http.Error(w, "status must be online or offline", http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateWorkerAvailability(r.Context(), claims.SubjectID, req.Status); err != nil {
		s.log.Error("toggle availability", "worker_id", claims.SubjectID, "err", err)
		writeError(w, models.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"availability_status": req.Status})
}

// allow runs the per-actor rate limiter; it writes the 429 itself.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, actorID string) bool {
	if s.limiter == nil {
		return true
	}
	allowed, retryAfter, err := s.limiter.Allow(r.Context(), actorID)
	if err != nil {
		s.log.Error("rate limiter", "err", err)
		return true // fail open: the limiter is protection, not a dependency
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		}
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func coords(r *http.Request) (float64, float64, bool) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")
	if latStr == "" || lngStr == "" {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(latStr, 64)
	lng, err2 := strconv.ParseFloat(lngStr, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	if v := r.URL.Query().Get(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusByCode maps stable domain error codes to HTTP statuses.
var statusByCode = map[string]int{
	models.CodeNotFound:           http.StatusNotFound,
	models.CodeForbidden:          http.StatusForbidden,
	models.CodeInvalidTransition:  http.StatusConflict,
	models.CodeAlreadyTaken:       http.StatusConflict,
	models.CodeJobClosed:          http.StatusConflict,
	models.CodeNoWorkersAvailable: http.StatusNotFound,
	models.CodeNoJobsAvailable:    http.StatusNotFound,
	"invalid_photo":               http.StatusBadRequest,
	models.CodeInternal:           http.StatusInternalServerError,
}

func writeError(w http.ResponseWriter, err error) {
	if de, ok := models.AsDomain(err); ok {
		status, found := statusByCode[de.Code]
		if !found {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]any{"error": de})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error": models.Internal(err),
	})
}
