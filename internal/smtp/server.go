package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shineum/mail-interceptor/internal/provider"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Hostname is announced in the greeting and EHLO responses.
	Hostname string

	// Provider receives every accepted message. It is usually the intercept
	// decorator wrapping the real delivery provider.
	Provider provider.Provider

	// TLSConfig enables STARTTLS when non-nil.
	TLSConfig *tls.Config

	// AuthUsername and AuthPassword configure SMTP AUTH.
	// If either is empty, authentication is not required.
	AuthUsername string
	AuthPassword string

	// MaxMessageSize limits DATA; zero means DefaultMaxMessageSize.
	MaxMessageSize int64

	// MaxConnections caps concurrent sessions; zero means unlimited.
	MaxConnections int

	// ConnectionRate limits new connections per second, allowing bursts of
	// ConnectionBurst. Zero disables the limit.
	ConnectionRate  float64
	ConnectionBurst int
}

// Server accepts SMTP connections and runs one Session per connection.
type Server struct {
	config ServerConfig
	auth   *Authenticator

	mu       sync.Mutex
	listener net.Listener

	// slots is nil when connections are unlimited.
	slots chan struct{}

	// limiter is nil when the connection rate is unlimited.
	limiter *rate.Limiter

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a new SMTP Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	s := &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
	}
	if cfg.MaxConnections > 0 {
		s.slots = make(chan struct{}, cfg.MaxConnections)
	}
	if cfg.ConnectionRate > 0 {
		burst := cfg.ConnectionBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.ConnectionRate), burst)
	}
	return s
}

// ListenAndServe listens on ListenAddr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On cancellation it
// stops accepting and waits up to 30 seconds for in-flight sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"provider", s.config.Provider.Name(),
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
		"max_connections", s.config.MaxConnections,
		"connection_rate", s.config.ConnectionRate,
	)

	stop := context.AfterFunc(ctx, func() {
		slog.Info("shutting down SMTP server")
		ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.waitForSessions()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			slog.Error("accept error", "error", err)
			continue
		}

		if !s.acquire(conn) {
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release()
			NewSession(conn, SessionConfig{
				Hostname:       s.config.Hostname,
				Auth:           s.auth,
				Provider:       s.config.Provider,
				TLSConfig:      s.config.TLSConfig,
				MaxMessageSize: s.config.MaxMessageSize,
			}).Handle(ctx)
		}()
	}
}

// acquire applies the connection rate and reserves a session slot. A client
// that is over either limit is told to retry later and disconnected.
func (s *Server) acquire(conn net.Conn) bool {
	if s.limiter != nil && !s.limiter.Allow() {
		s.reject(conn, "connection rate exceeded")
		return false
	}
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		s.reject(conn, "connection limit reached")
		return false
	}
}

func (s *Server) reject(conn net.Conn, reason string) {
	slog.Warn("rejecting client", "reason", reason, "remote", conn.RemoteAddr().String())
	_, _ = conn.Write([]byte("421 " + s.config.Hostname + " Too many connections, try again later\r\n"))
	conn.Close()
}

func (s *Server) release() {
	if s.slots != nil {
		<-s.slots
	}
}

// waitForSessions waits for all in-flight sessions to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
