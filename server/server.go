package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/veritas-care/evv/aggregator"
	"github.com/veritas-care/evv/engine"
	"github.com/veritas-care/evv/evidence"
	"github.com/veritas-care/evv/metrics"
	"github.com/veritas-care/evv/store"
	"github.com/veritas-care/evv/syncer"
	"github.com/veritas-care/evv/vmur"
)

// Server exposes the EVV core over HTTP: clock event ingestion, offline sync
// reconciliation, aggregator submission and the unlock request workflow.
type Server struct {
	log      *zap.SugaredLogger
	m        metrics.Metricer
	endpoint string

	engine     *engine.Engine
	syncer     *syncer.Syncer
	dispatcher *aggregator.Dispatcher
	workflow   *vmur.Workflow
	store      store.Store
	evidence   *evidence.Store

	validate   *validator.Validate
	httpServer *http.Server
	listener   net.Listener
}

func NewServer(
	host string, port int,
	log *zap.SugaredLogger, m metrics.Metricer,
	eng *engine.Engine, sync *syncer.Syncer,
	dispatcher *aggregator.Dispatcher, workflow *vmur.Workflow,
	st store.Store,
) *Server {
	endpoint := net.JoinHostPort(host, strconv.Itoa(port))
	return &Server{
		log:        log,
		m:          m,
		endpoint:   endpoint,
		engine:     eng,
		syncer:     sync,
		dispatcher: dispatcher,
		workflow:   workflow,
		store:      st,
		validate:   validator.New(),
		httpServer: &http.Server{
			Addr:              endpoint,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      2 * time.Minute,
		},
	}
}

// WithEvidence attaches the photo evidence store; without it the evidence
// routes are not registered.
func (svr *Server) WithEvidence(ev *evidence.Store) *Server {
	svr.evidence = ev
	return svr
}

func (svr *Server) Start() error {
	r := mux.NewRouter()
	svr.registerRoutes(r)
	svr.httpServer.Handler = r

	listener, err := net.Listen("tcp", svr.endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	svr.listener = listener
	svr.endpoint = listener.Addr().String()

	svr.log.Infow("starting EVV server", "endpoint", svr.endpoint)
	errCh := make(chan error, 1)
	go func() {
		if err := svr.httpServer.Serve(svr.listener); err != nil {
			errCh <- err
		}
	}()

	// verify that the server comes up
	tick := time.NewTimer(10 * time.Millisecond)
	defer tick.Stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-tick.C:
		return nil
	}
}

func (svr *Server) Endpoint() string {
	return svr.listener.Addr().String()
}

func (svr *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(svr.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

func (svr *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svr.httpServer.Shutdown(ctx); err != nil {
		svr.log.Errorw("failed to shutdown EVV server", "err", err)
		return err
	}
	return nil
}
