package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	appconfig "github.com/WeiXinbang/FuturesCloudSentinel/config"
	"github.com/WeiXinbang/FuturesCloudSentinel/logger"
	"github.com/WeiXinbang/FuturesCloudSentinel/protocol"
	"github.com/WeiXinbang/FuturesCloudSentinel/router"
	"github.com/WeiXinbang/FuturesCloudSentinel/watcher"
)

// Server accepts framed TCP connections and feeds each request through the
// router. Connections beyond the cap get a busy response and are closed.
type Server struct {
	config   appconfig.ServerConfig
	router   *router.Router
	registry *watcher.Registry
	limiter  *rate.Limiter
	log      *logger.Log

	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.Mutex
	running  bool
	listener net.Listener
	sessions map[string]*Session
	active   int64
}

func NewServer(cfg appconfig.ServerConfig, rt *router.Router, registry *watcher.Registry) *Server {
	limit := rate.Limit(cfg.AcceptRate)
	if cfg.AcceptRate <= 0 {
		limit = rate.Inf
	}
	burst := cfg.AcceptBurst
	if burst <= 0 {
		burst = 1
	}
	return &Server{
		config:   cfg,
		router:   rt,
		registry: registry,
		limiter:  rate.NewLimiter(limit, burst),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		sessions: make(map[string]*Session),
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.ctx = ctx

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = listener
	s.mu.Unlock()

	log := s.log.WithComponent("server")
	log.WithFields(logger.Fields{"addr": listener.Addr().String()}).Info("server listening")

	s.wg.Add(1)
	go s.acceptLoop(listener)

	return nil
}

func (s *Server) Stop() {
	s.mu.Lock()
	s.running = false
	listener := s.listener
	open := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		open = append(open, session)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	// Unblock connection readers so wg.Wait can finish.
	for _, session := range open {
		session.close()
	}

	s.log.WithComponent("server").Info("stopping server")
	s.wg.Wait()
	s.log.WithComponent("server").Info("server stopped")
}

// Addr reports the bound listen address, useful when ListenAddr used port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	log := s.log.WithComponent("server").WithFields(logger.Fields{"worker": "accept"})

	for {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).Warn("accept failed")
			continue
		}

		if atomic.LoadInt64(&s.active) >= int64(s.config.MaxConnections) {
			log.WithFields(logger.Fields{"remote": conn.RemoteAddr().String()}).Warn("connection limit reached, rejecting client")
			s.rejectBusy(conn)
			continue
		}

		atomic.AddInt64(&s.active, 1)
		logger.ConnectionOpened()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// rejectBusy tells the client the server is full before closing.
func (s *Server) rejectBusy(conn net.Conn) {
	resp := protocol.Fail(nil, protocol.CodeBusy, "server busy")
	if payload, err := protocol.Encode(resp); err == nil {
		protocol.WriteMessage(conn, payload)
	}
	conn.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	session := newSession(conn)
	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	log := s.log.WithComponent("session").WithFields(logger.Fields{
		"session": session.ID(),
		"remote":  conn.RemoteAddr().String(),
	})
	log.Info("client connected")

	defer func() {
		s.mu.Lock()
		delete(s.sessions, session.ID())
		s.mu.Unlock()
		if account := session.Account(); account != "" {
			s.registry.Detach(account, session.ID())
		}
		session.close()
		atomic.AddInt64(&s.active, -1)
		logger.ConnectionClosed()
		log.Info("client disconnected")
	}()

	for {
		if s.ctx.Err() != nil {
			return
		}

		body, err := protocol.ReadMessage(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.Is(err, protocol.ErrHeaderMalformed),
				errors.Is(err, protocol.ErrBodyTooLarge),
				errors.Is(err, protocol.ErrBodyNotUTF8):
				// The stream cannot be resynced after a bad frame, and
				// there is no frame boundary to answer on. Just drop.
				log.WithError(err).Warn("bad frame, dropping connection")
			default:
				log.WithError(err).Warn("read failed")
			}
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.config.RequestTimeout)
		resp := s.router.Dispatch(ctx, session, body)
		cancel()

		if err := session.writeResponse(resp); err != nil {
			log.WithError(err).Warn("write failed")
			return
		}
	}
}
