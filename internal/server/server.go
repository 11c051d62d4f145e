package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/cloudvault/cloudvault/internal/config"
	"github.com/cloudvault/cloudvault/internal/handler"
	"github.com/cloudvault/cloudvault/internal/logging"
	"github.com/cloudvault/cloudvault/internal/metrics"
	"github.com/cloudvault/cloudvault/internal/session"
	"github.com/cloudvault/cloudvault/internal/storage"
	"github.com/cloudvault/cloudvault/internal/transfer"
	"github.com/cloudvault/cloudvault/internal/transport"
	"github.com/cloudvault/cloudvault/internal/user"
)

// Server accepts TCP connections and runs one session goroutine per client.
// Admission is bounded by a weighted semaphore; connections over the limit
// are accepted and immediately closed so the client sees a clean refusal
// instead of a SYN backlog timeout.
type Server struct {
	cfg   *config.ServerConfig
	env   *session.Env
	users user.Repository
	log   *zap.Logger

	listener net.Listener
	slots    *semaphore.Weighted
	accept   *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*session.Session
	closed   bool

	wg   sync.WaitGroup
	done chan struct{}
}

// New wires the storage, metadata, and session layers from configuration.
func New(cfg *config.ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	users, err := user.OpenFileRepository(cfg.UsersDir())
	if err != nil {
		return nil, fmt.Errorf("opening user repository: %w", err)
	}

	meta, err := storage.OpenMetadataStore(cfg.MetadataDir())
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	backend, err := storage.NewLocalBackend(cfg.FilesDir(), cfg.CompressChunks, func(fileID string) (string, error) {
		f, err := meta.GetFile(fileID)
		if err != nil {
			return "", err
		}
		return f.UserID, nil
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage backend: %w", err)
	}

	coordinator := &transfer.Coordinator{
		Meta:      meta,
		Backend:   backend,
		ChunkSize: cfg.ChunkSize,
	}
	dispatcher := handler.NewDispatcher(&handler.Deps{
		Meta:    meta,
		Backend: backend,
	})

	s := &Server{
		cfg:   cfg,
		users: users,
		env: &session.Env{
			Users:       users,
			Backend:     backend,
			Coordinator: coordinator,
			Dispatcher:  dispatcher,
		},
		log:      logging.GetLogger(),
		slots:    semaphore.NewWeighted(int64(cfg.MaxSessions)),
		sessions: make(map[string]*session.Session),
		done:     make(chan struct{}),
	}
	if cfg.AcceptRate > 0 {
		s.accept = rate.NewLimiter(rate.Limit(cfg.AcceptRate), int(cfg.AcceptRate))
	}

	if err := s.bootstrapAdmin(); err != nil {
		return nil, err
	}
	return s, nil
}

// bootstrapAdmin creates the initial administrator account when the user
// store is empty, so a fresh deployment is reachable.
func (s *Server) bootstrapAdmin() error {
	n, err := s.users.Count()
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if n > 0 {
		return nil
	}
	u, err := s.users.CreateUser("admin", s.cfg.AdminPassword, "", user.RoleAdmin)
	if err != nil {
		return fmt.Errorf("creating bootstrap admin: %w", err)
	}
	if err := s.env.Backend.EnsureUserDir(u.ID); err != nil {
		return fmt.Errorf("creating admin storage directory: %w", err)
	}
	s.log.Info("bootstrap admin account created", zap.String("user_id", u.ID))
	return nil
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled or Close is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. The listener is owned by the server
// afterwards and closed on shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server is closed")
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_sessions", s.cfg.MaxSessions))

	s.wg.Add(1)
	go s.sweepLoop()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		if s.accept != nil {
			if err := s.accept.Wait(ctx); err != nil {
				_ = raw.Close()
				return nil
			}
		}

		if !s.slots.TryAcquire(1) {
			metrics.RejectedConnectionsTotal.Inc()
			s.log.Warn("connection rejected, session limit reached",
				zap.String("remote", raw.RemoteAddr().String()))
			_ = raw.Close()
			continue
		}

		transport.Tune(raw, s.cfg.NetworkBufferSize)
		sess := session.New(transport.New(raw, s.cfg.NetworkBufferSize), s.env)

		s.mu.Lock()
		s.sessions[sess.ID] = sess
		s.mu.Unlock()
		metrics.ActiveSessions.Inc()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release(sess)
			sess.Run(ctx)
		}()
	}
}

func (s *Server) release(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()
	metrics.ActiveSessions.Dec()
	s.slots.Release(1)
}

// sweepLoop periodically disconnects sessions idle past the configured
// timeout. The interval is capped so a long timeout still sweeps promptly.
func (s *Server) sweepLoop() {
	defer s.wg.Done()
	interval := s.cfg.SweepInterval
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			for _, sess := range s.snapshot() {
				sess.Expire(s.cfg.SessionTimeout)
			}
		}
	}
}

func (s *Server) snapshot() []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// SessionCount reports the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, disconnects every session, and waits for their
// goroutines to drain.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	close(s.done)
	if ln != nil {
		_ = ln.Close()
	}
	for _, sess := range s.snapshot() {
		sess.Shutdown()
	}
	s.wg.Wait()
	s.log.Info("server stopped")
}
