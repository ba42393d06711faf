package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"strings"
	"time"

	app "github.com/R3E-Network/service_layer/internal/app"
	"github.com/R3E-Network/service_layer/internal/app/metrics"
	"github.com/R3E-Network/service_layer/internal/app/system"
	"github.com/R3E-Network/service_layer/pkg/logger"
)

// Service exposes the DSP HTTP surface and fits into the system manager
// lifecycle.
type Service struct {
	addr    string
	server  *http.Server
	handler http.Handler
	log     *logger.Logger
}

// NewService builds a Service bound to application. tokens are static
// bearer tokens accepted alongside validator; either may be empty.
func NewService(application *app.Application, addr string, tokens []string, validator JWTValidator, log *logger.Logger, db *sql.DB) *Service {
	if log == nil {
		log = logger.NewDefault("http")
	}
	var sink auditSink
	if path := strings.TrimSpace(os.Getenv("AUDIT_LOG_PATH")); path != "" {
		if s, err := newFileAuditSink(path); err == nil {
			sink = s
			log.Infof("audit log persisting to %s", path)
		} else {
			log.Warnf("audit log file not configured: %v", err)
		}
	} else if db != nil {
		sink = newPostgresAuditSink(db)
	}
	audit := newAuditLog(300, sink)

	handler := NewHandler(application, audit)
	// Order matters: auth sees the real request, CORS short-circuits
	// preflight OPTIONS before auth, metrics wraps the final handler.
	handler = wrapWithAuth(handler, tokens, validator, log)
	handler = wrapWithAudit(handler, audit)
	handler = wrapWithCORS(handler)
	handler = metrics.InstrumentHandler(handler)

	return &Service{addr: addr, handler: handler, log: log}
}

var _ system.Service = (*Service)(nil)

func (s *Service) Name() string { return "http" }

func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// wrapWithAudit records one entry per request: the authenticated
// participant (if any), path, method, status, and the DSP process id when
// the route names one.
func wrapWithAudit(next http.Handler, audit *auditLog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		participant, _ := r.Context().Value(ctxParticipantKey).(string)
		if participant == "" {
			participant = "token"
		}
		audit.add(auditEntry{
			Time:       time.Now().UTC(),
			User:       participant,
			ProcessID:  r.PathValue("pid"),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (s *statusCapture) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// wrapWithCORS allows cross-origin requests from a dashboard and
// short-circuits preflight requests.
func wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
