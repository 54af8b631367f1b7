package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/delivery-dispatch/internal/dispatch"
	"github.com/example/delivery-dispatch/internal/engine"
	"github.com/example/delivery-dispatch/internal/ingest"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/storage"
)

// Server binds the dispatch engine and its collaborators to HTTP routes.
// All business decisions live in the engine; handlers parse, authenticate
// via the identity middleware, and translate outcomes to status codes.
type Server struct {
	Engine    *engine.Engine
	Actors    storage.ActorStore
	Locations storage.LocationStore
	Kafka     *ingest.KafkaProducer
	WSReg     *dispatch.WSRegistry

	logger *slog.Logger
	router *mux.Router
}

func NewServer(eng *engine.Engine, actors storage.ActorStore, locations storage.LocationStore, kp *ingest.KafkaProducer, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{
		Engine:    eng,
		Actors:    actors,
		Locations: locations,
		Kafka:     kp,
		WSReg:     wsreg,
		logger:    logger,
		router:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/actors", s.handleRegisterActor).Methods(http.MethodPost)
	s.router.HandleFunc("/ws/drivers/{driver_id}", s.handleDriverWS).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.identityMiddleware)
	api.HandleFunc("/locations", s.handleRecordLocation).Methods(http.MethodPost)
	api.HandleFunc("/engagements", s.handleCreateEngagement).Methods(http.MethodPost)
	api.HandleFunc("/engagements/close", s.handleCloseEngagement).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

type registerActorRequest struct {
	Username string `json:"username"`
	IsDriver bool   `json:"is_driver"`
	Plate    string `json:"plate"`
}

func (s *Server) handleRegisterActor(w http.ResponseWriter, r *http.Request) {
	var req registerActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if req.IsDriver && req.Plate == "" {
		writeError(w, http.StatusBadRequest, "plate is required for drivers")
		return
	}
	actor := &models.Actor{
		ID:        uuid.NewString(),
		Username:  req.Username,
		IsDriver:  req.IsDriver,
		Plate:     req.Plate,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Actors.CreateActor(r.Context(), actor); err != nil {
		s.logger.Error("create actor failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        actor.ID,
		"username":  actor.Username,
		"is_driver": actor.IsDriver,
	})
}

type recordLocationRequest struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (s *Server) handleRecordLocation(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	var req recordLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := models.ValidateCoords(req.Lat, req.Lon); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec := &models.LocationRecord{
		ID:         uuid.NewString(),
		ActorID:    actor.ID,
		Address:    req.Address,
		Lat:        req.Lat,
		Lon:        req.Lon,
		RecordedAt: time.Now().UTC(),
	}
	if err := s.Locations.AppendLocation(r.Context(), rec); err != nil {
		s.logger.Error("append location failed", "actor_id", actor.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	observability.LocationsRecorded.Inc()

	if s.Kafka != nil {
		ev := models.LocationEvent{
			ActorID:    actor.ID,
			IsDriver:   actor.IsDriver,
			Address:    rec.Address,
			Lat:        rec.Lat,
			Lon:        rec.Lon,
			RecordedAt: rec.RecordedAt,
		}
		if err := s.Kafka.PublishLocation(r.Context(), ev); err != nil {
			// The durable store is already written; the registry catches up
			// on the next update.
			s.logger.Warn("publish location event failed", "actor_id", actor.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          rec.ID,
		"recorded_at": rec.RecordedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleCreateEngagement(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	res, err := s.Engine.Create(r.Context(), actor.ID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"engagement_id":     res.Engagement.ID,
		"driver_id":         res.Driver.ID,
		"driver_name":       res.Driver.Username,
		"driver_plate":      res.Driver.Plate,
		"distance_km":       res.Engagement.DistanceKm,
		"estimated_minutes": res.Engagement.EstimatedMin,
	})
}

func (s *Server) handleCloseEngagement(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	eng, err := s.Engine.Close(r.Context(), actor.ID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"engagement_id": eng.ID,
		"closed_at":     eng.ClosedAt.Format(time.RFC3339),
	})
}

// writeEngineError maps the engine's business outcomes onto status codes.
// Precondition failures are client errors; missing resources are not-found.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrRoleViolation):
		writeError(w, http.StatusConflict, "drivers cannot request deliveries")
	case errors.Is(err, engine.ErrAlreadyEngaged):
		writeError(w, http.StatusConflict, "an open engagement already exists")
	case errors.Is(err, engine.ErrNoLocation):
		writeError(w, http.StatusUnprocessableEntity, "no location recorded")
	case errors.Is(err, engine.ErrNoDriverAvailable):
		observability.MatchFailures.Inc()
		writeError(w, http.StatusNotFound, "no driver available")
	case errors.Is(err, engine.ErrNoActiveEngagement):
		writeError(w, http.StatusNotFound, "no active engagement")
	default:
		s.logger.Error("engine error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

var upgrader = websocket.Upgrader{}

// handleDriverWS attaches a driver app session used for engagement offers.
func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	actor, err := s.Actors.GetActor(r.Context(), driverID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown driver")
		return
	}
	if !actor.IsDriver {
		writeError(w, http.StatusForbidden, "not a driver")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.Add(driverID, conn)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type contextKey string

const actorKey contextKey = "actor"

// identityMiddleware resolves the authenticated actor from the X-Actor-ID
// header. Authentication proper happens upstream; this service trusts the
// gateway-supplied identity and only resolves it to a stored actor.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Actor-ID")
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing actor identity")
			return
		}
		actor, err := s.Actors.GetActor(r.Context(), id)
		if errors.Is(err, storage.ErrActorNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown actor")
			return
		}
		if err != nil {
			s.logger.Error("resolve actor failed", "actor_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFromContext(ctx context.Context) *models.Actor {
	a, _ := ctx.Value(actorKey).(*models.Actor)
	return a
}
