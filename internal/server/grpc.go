package server

import (
	"VestLedger/internal/ingestion"
	"VestLedger/internal/observability"
	"VestLedger/internal/persistence"
	"VestLedger/internal/projection"
	"VestLedger/internal/query"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON mux. The gRPC side
// carries health and reflection; the query and admin surface is served as
// HTTP/JSON routes on a gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	deps          *ServerDeps
	healthChecker *observability.HealthChecker
}

// ServerDeps holds all dependencies needed by the API services.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.AdminIngestService
	SnapshotMgr   *persistence.SnapshotManager
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewGRPCServer creates the gRPC server with health and reflection services
// registered, plus the HTTP/JSON gateway configuration.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		deps:          deps,
		healthChecker: deps.HealthChecker,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	log := observability.NewLogger("server")

	go func() {
		<-ctx.Done()
		log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON API (blocking). Routes are registered
// on a gRPC-Gateway mux for its path-parameter matching and marshaling
// conventions.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	log := observability.NewLogger("server")

	mux := runtime.NewServeMux()

	if err := s.registerQueryRoutes(mux); err != nil {
		return fmt.Errorf("register query routes: %w", err)
	}
	if err := s.registerIngestRoutes(mux); err != nil {
		return fmt.Errorf("register ingest routes: %w", err)
	}
	if err := s.registerAdminRoutes(mux); err != nil {
		return fmt.Errorf("register admin routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Query routes
// ============================================================================

func (s *GRPCServer) registerQueryRoutes(mux *runtime.ServeMux) error {
	if err := mux.HandlePath("GET", "/v1/streams/{stream_id}", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		streamID, err := uuid.Parse(pathParams["stream_id"])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid stream_id: %v", err)
			return
		}

		resp, err := s.deps.QueryService.GetStream(r.Context(), streamID, queryNow(r))
		if err != nil {
			writeError(w, http.StatusNotFound, "%v", err)
			return
		}
		writeJSON(w, resp)
	}); err != nil {
		return err
	}

	if err := mux.HandlePath("GET", "/v1/streams/{stream_id}/entitlements", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		streamID, err := uuid.Parse(pathParams["stream_id"])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid stream_id: %v", err)
			return
		}

		resp, err := s.deps.QueryService.GetEntitlements(r.Context(), streamID, queryNow(r))
		if err != nil {
			writeError(w, http.StatusNotFound, "%v", err)
			return
		}
		writeJSON(w, resp)
	}); err != nil {
		return err
	}

	if err := mux.HandlePath("GET", "/v1/streams/{stream_id}/transfers", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		streamID, err := uuid.Parse(pathParams["stream_id"])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid stream_id: %v", err)
			return
		}

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		var after *int64
		if v := r.URL.Query().Get("after_sequence"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				after = &n
			}
		}

		entries, err := s.deps.QueryService.ListTransfers(r.Context(), streamID, limit, after)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		writeJSON(w, map[string]interface{}{"transfers": entries})
	}); err != nil {
		return err
	}

	if err := mux.HandlePath("GET", "/v1/balances/{account}", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		account, err := uuid.Parse(pathParams["account"])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid account: %v", err)
			return
		}

		resp, err := s.deps.QueryService.GetBalance(r.Context(), account)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		writeJSON(w, resp)
	}); err != nil {
		return err
	}

	return mux.HandlePath("GET", "/v1/parties/{party}/streams", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		party, err := uuid.Parse(pathParams["party"])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid party: %v", err)
			return
		}

		streams, err := s.deps.QueryService.ListStreamsByParty(r.Context(), party, queryNow(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		writeJSON(w, map[string]interface{}{"streams": streams})
	})
}

// ============================================================================
// Ingest routes
// ============================================================================

// registerIngestRoutes wires the admin injection path: the payload format is
// identical to the NATS wire format, parsed by the same parser.
func (s *GRPCServer) registerIngestRoutes(mux *runtime.ServeMux) error {
	return mux.HandlePath("POST", "/v1/ingest/{event_type}", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		eventType := pathParams["event_type"]

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "read payload: %v", err)
			return
		}

		raw := ingestion.RawEvent{
			Subject:   eventType,
			Data:      body,
			Timestamp: time.Now(),
		}

		evt, err := ingestion.ParseRawEvent(raw, eventType)
		if err != nil {
			writeError(w, http.StatusBadRequest, "parse payload: %v", err)
			return
		}

		if err := s.deps.IngestService.Submit(r.Context(), evt); err != nil {
			if r.Context().Err() != nil {
				writeError(w, http.StatusServiceUnavailable, "context cancelled")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid command: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{"accepted": true})
	})
}

// ============================================================================
// Admin routes
// ============================================================================

func (s *GRPCServer) registerAdminRoutes(mux *runtime.ServeMux) error {
	if err := mux.HandlePath("GET", "/v1/admin/integrity", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "verify integrity: %v", err)
			return
		}
		writeJSON(w, report)
	}); err != nil {
		return err
	}

	if err := mux.HandlePath("POST", "/v1/admin/projections/rebuild", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
			writeError(w, http.StatusInternalServerError, "rebuild failed: %v", err)
			return
		}
		writeJSON(w, map[string]interface{}{"rebuilt": true})
	}); err != nil {
		return err
	}

	return mux.HandlePath("GET", "/v1/admin/eventlog", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "get latest sequence: %v", err)
			return
		}
		writeJSON(w, map[string]interface{}{
			"last_sequence":  latestSeq,
			"uptime_seconds": int64(time.Since(s.deps.StartTime).Seconds()),
		})
	})
}

// ============================================================================
// Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": fmt.Sprintf(format, args...),
	})
}

// queryNow resolves the evaluation time for derived vesting values: the `now`
// query parameter (unix seconds) when present, wall clock otherwise.
func queryNow(r *http.Request) int64 {
	if v := r.URL.Query().Get("now"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return time.Now().Unix()
}
