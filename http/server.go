package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var ErrServerClosed = errors.New("http: server closed")

// Settings tune a Server. Zero values fall back to the defaults.
type Settings struct {
	Addr                 string        `toml:"addr"`
	MaxPipelinedRequests int           `toml:"max_pipelined_requests"`
	ReadHeaderTimeout    time.Duration `toml:"read_header_timeout"`
	IdleTimeout          time.Duration `toml:"idle_timeout"`
	RequestTimeout       time.Duration `toml:"request_timeout"`
	WriteTimeout         time.Duration `toml:"write_timeout"`
	MaxHeaderBytes       int           `toml:"max_header_bytes"`
	MaxBodyBytes         int64         `toml:"max_body_bytes"`

	// AcceptRate limits new connections per second; 0 disables the limit.
	AcceptRate  float64 `toml:"accept_rate"`
	AcceptBurst int     `toml:"accept_burst"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:                 "0.0.0.0:8080",
		MaxPipelinedRequests: DefaultMaxPipelinedRequests,
		ReadHeaderTimeout:    10 * time.Second,
		IdleTimeout:          60 * time.Second,
		RequestTimeout:       30 * time.Second,
		WriteTimeout:         30 * time.Second,
		MaxHeaderBytes:       DefaultMaxHeaderBytes,
		MaxBodyBytes:         DefaultMaxBodyBytes,
	}
}

func (s Settings) maxPipelined() int {
	if s.MaxPipelinedRequests < 1 {
		return DefaultMaxPipelinedRequests
	}
	return s.MaxPipelinedRequests
}

type Server struct {
	Name     string
	Handler  Handler
	Settings Settings
	Logger   *slog.Logger

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	conns      map[*conn]struct{}
	wg         sync.WaitGroup
	inShutdown atomic.Bool
}

func NewServer(name string, handler Handler) *Server {
	return &Server{
		Name:     name,
		Handler:  handler,
		Settings: DefaultSettings(),
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logger
}

func (s *Server) shuttingDown() bool {
	return s.inShutdown.Load()
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if s.shuttingDown() {
		return ErrServerClosed
	}
	if addr == "" {
		addr = s.Settings.Addr
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled or Shutdown
// is called. It always returns a non-nil error.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if !s.trackListener(listener, true) {
		_ = listener.Close()
		return ErrServerClosed
	}
	defer s.trackListener(listener, false)

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	var limiter *rate.Limiter
	if s.Settings.AcceptRate > 0 {
		burst := s.Settings.AcceptBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.Settings.AcceptRate), burst)
	}

	s.logger().InfoContext(ctx, "listening", slog.String("addr", listener.Addr().String()))

	var backoff time.Duration
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return s.closedErr(ctx, err)
			}
		}

		rwc, err := listener.Accept()
		if err != nil {
			if s.shuttingDown() || ctx.Err() != nil {
				return s.closedErr(ctx, err)
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.logger().Warn("accept failed, retrying", slog.Any("error", err), slog.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		go s.ServeConn(ctx, rwc)
	}
}

func (s *Server) closedErr(ctx context.Context, err error) error {
	if s.shuttingDown() {
		return ErrServerClosed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ServeConn serves HTTP/1.x requests from rwc until the client or the server
// closes the connection. Requests may be pipelined; responses are written in
// request order.
func (s *Server) ServeConn(ctx context.Context, rwc net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	c := newConn(s, rwc, cancel)
	if !s.trackConn(c, true) {
		cancel()
		_ = rwc.Close()
		return
	}
	defer s.trackConn(c, false)

	c.serve(ctx)
}

// Shutdown stops accepting connections and lets open connections finish the
// requests they already read. Connections still open when ctx is done are
// closed, cancelling their pending responses.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	for ln := range s.listeners {
		_ = ln.Close()
	}
	for c := range s.conns {
		c.stopReading()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for c := range s.conns {
			c.cancel()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !add {
		delete(s.listeners, ln)
		return true
	}
	if s.shuttingDown() {
		return false
	}
	if s.listeners == nil {
		s.listeners = make(map[net.Listener]struct{})
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) trackConn(c *conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !add {
		delete(s.conns, c)
		s.wg.Done()
		return true
	}
	if s.shuttingDown() {
		return false
	}
	if s.conns == nil {
		s.conns = make(map[*conn]struct{})
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}
