// Package server hosts machines behind the network: a Connect execution
// service backed by a pool of runners, and the TCP status listener.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/movasm/config"
	"github.com/chazu/movasm/journal"
)

// runnerQueueFactor sizes the runner queue relative to the worker count.
const runnerQueueFactor = 4

// Server wires the execution service and the status listener.
type Server struct {
	cfg     *config.Config
	runner  *Runner
	status  *StatusServer
	exec    *ExecService
	mux     *http.ServeMux
	journal *journal.Journal
	log     commonlog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	journal *journal.Journal
}

// WithJournal records every exec run in j.
func WithJournal(j *journal.Journal) ServerOption {
	return func(c *serverConfig) { c.journal = j }
}

// New creates a Server from cfg.
func New(cfg *config.Config, opts ...ServerOption) *Server {
	sc := &serverConfig{}
	for _, opt := range opts {
		opt(sc)
	}

	runner := NewRunner(cfg.Exec.Workers, cfg.Exec.Workers*runnerQueueFactor)
	exec := NewExecService(runner, sc.journal,
		uint64(cfg.Exec.StepLimit),
		time.Duration(cfg.Exec.TimeoutMs)*time.Millisecond)

	s := &Server{
		cfg:     cfg,
		runner:  runner,
		status:  NewStatusServer(cfg.Server),
		exec:    exec,
		mux:     http.NewServeMux(),
		journal: sc.journal,
		log:     commonlog.GetLogger("movasm.server"),
	}

	path, handler := NewExecServiceHandler(exec)
	s.mux.Handle(path, handler)
	return s
}

// Handler returns the HTTP handler serving the execution service.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Runner returns the server's runner pool.
func (s *Server) Runner() *Runner {
	return s.runner
}

// ListenAndServe serves the status listener on cfg.ListenAddr and the
// execution service on cfg.Exec.Address until ctx is done or either
// fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	statusLn, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return err
	}
	execLn, err := net.Listen("tcp", s.cfg.Exec.Address)
	if err != nil {
		statusLn.Close()
		return err
	}
	return s.Serve(ctx, statusLn, execLn)
}

// Serve runs both listeners until ctx is done or either fails.
func (s *Server) Serve(ctx context.Context, statusLn, execLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.status.Serve(ctx, statusLn)
	})

	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		s.log.Infof("exec service listening on http://%s%s", execLn.Addr(), ExecServiceRunProcedure)
		if err := srv.Serve(execLn); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Stop shuts down the runner pool.
func (s *Server) Stop() {
	s.runner.Stop()
}
