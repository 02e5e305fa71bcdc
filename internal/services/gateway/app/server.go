package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/parleyhq/parley/internal/authz"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/platform/requestctx"
	"github.com/parleyhq/parley/internal/platform/timeouts"
	"github.com/parleyhq/parley/internal/turn"
)

const (
	identityHeaderName = "X-Parley-Identity"
	identityCookieName = "parley_token"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxContentRunes = 8192
)

// Config defines the inputs for the gateway transport boundary.
//
// The registry, provider, and transcript store are built by the command
// layer; the server only serves connections over them.
type Config struct {
	HTTPAddr          string
	DefaultModel      string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// Registry resolves and invokes capabilities for every turn.
	Registry turn.Registry

	// Provider performs the model calls.
	Provider llm.Provider

	// Transcripts receives committed turns. Nil disables persistence.
	Transcripts turn.TranscriptWriter

	// Identities resolves handshake credentials into identities. Nil
	// treats every credential as a plain user name with no groups.
	Identities authz.IdentitySource

	Logger *log.Logger
}

// Server hosts the gateway HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	logger          *log.Logger
}

// NewServer builds a configured gateway server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.Registry == nil {
		return nil, errors.New("capability registry is required")
	}
	if config.Provider == nil {
		return nil, errors.New("model provider is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.Identities == nil {
		config.Identities = authz.StaticGroups{}
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(config),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		logger:          config.Logger,
	}, nil
}

func newHandler(config Config) http.Handler {
	orchestrator := turn.New(config.Registry, config.Provider, turn.Options{
		Transcripts: config.Transcripts,
		Logger:      config.Logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		identity := authz.Anonymous()
		if request := conn.Request(); request != nil {
			identity = requestctx.IdentityFromContext(request.Context())
		}
		handleConn(conn, identity, orchestrator, config)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		identity := config.Identities.Identify(credentialFromRequest(r))
		ctx := requestctx.WithIdentity(r.Context(), identity)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})

	return mux
}

// credentialFromRequest reads the proxy-injected identity credential. The
// header wins; the cookie keeps browser-based development working without a
// proxy in front.
func credentialFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get(identityHeaderName)); header != "" {
		return header
	}
	cookie, err := r.Cookie(identityCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

// Run creates and serves a gateway server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init gateway server: %w", err)
	}

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve gateway: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("gateway server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	s.logger.Printf("gateway listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
