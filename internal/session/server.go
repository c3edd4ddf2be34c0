package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/config"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/rdperrors"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/rdpproto"
)

// Server is the process-level accept loop (spec §6's "TLS listener" +
// "RDP protocol codec library" collaborators composed together): it
// terminates TLS, hands each accepted connection to an rdpproto.Acceptor
// for protocol negotiation, and runs one Session per accepted Conn up to
// the configured concurrency limit. Grounded on
// api/pkg/desktop/desktop.go's Server, generalized from one fixed
// HTTP+D-Bus session to many concurrent RDP sessions.
type Server struct {
	logger   *slog.Logger
	cfg      config.Config
	acceptor rdpproto.Acceptor

	sem chan struct{} // bounds concurrent sessions to cfg.Session.MaxConcurrent

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewServer builds a Server around an already-constructed
// rdpproto.Acceptor (the TLS listener + codec composed by the caller,
// since this repo does not implement an RDP wire codec — see
// internal/rdpproto's package doc).
func NewServer(logger *slog.Logger, cfg config.Config, acceptor rdpproto.Acceptor) *Server {
	max := cfg.Session.MaxConcurrent
	if max <= 0 {
		max = 4
	}
	return &Server{
		logger:   logger,
		cfg:      cfg,
		acceptor: acceptor,
		sem:      make(chan struct{}, max),
		sessions: make(map[string]*Session),
	}
}

// Run accepts connections until ctx is cancelled, spawning one Session
// goroutine per negotiated connection. It blocks until every in-flight
// session has torn down.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			s.shutdownAll()
			return nil
		default:
		}

		conn, err := s.acceptor.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.shutdownAll()
				return nil
			}
			s.logger.Error("session: accept failed", "err", err)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			s.shutdownAll()
			return nil
		}

		sess := New(s.logger, s.cfg, conn)
		s.register(sess)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-s.sem }()
			defer s.unregister(sess.ID)

			if err := sess.Run(ctx); err != nil {
				cat, _ := rdperrors.CategoryOf(err)
				s.logger.Error("session: terminated", "session_id", sess.ID, "err", err, "category", cat)
			}
		}()
	}
}

func (s *Server) register(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) shutdownAll() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Shutdown()
	}
	s.acceptor.Close()
}

// NewTLSListener builds a net.Listener terminating TLS with the
// configured certificate, the concrete "TLS listener" collaborator of
// spec §6 whose byte stream an rdpproto.Acceptor implementation consumes.
func NewTLSListener(cfg config.Config) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	if err != nil {
		return nil, rdperrors.Wrap(rdperrors.Configuration, err, "load TLS certificate")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	ln, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return nil, rdperrors.Wrap(rdperrors.Configuration, err, "listen")
	}
	return ln, nil
}
