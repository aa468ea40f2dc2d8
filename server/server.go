package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zfair/zuid/idtype"
	"github.com/zfair/zuid/internal/config"
	"github.com/zfair/zuid/internal/metrics"
	"github.com/zfair/zuid/internal/provider/seqgen"
	"github.com/zfair/zuid/internal/provider/seqgen/redis"
	"github.com/zfair/zuid/internal/provider/storage"
	"github.com/zfair/zuid/internal/provider/storage/postgres"
	"github.com/zfair/zuid/internal/provider/storage/sqlite"
	"github.com/zfair/zuid/internal/util"
	"github.com/zfair/zuid/registry"
)

// Server serves a directory of registries over HTTP.
type Server struct {
	requests int64 // The number of requests currently being served.

	config atomic.Value

	logger     *zap.Logger
	instanceID string

	startTime time.Time
	exitChan  chan int
	exitOnce  sync.Once

	allocator *registry.Allocator
	sequencer seqgen.Sequencer
	storage   storage.Storage
	metrics   *metrics.Metrics

	httpServer   *httpServer
	httpListener net.Listener

	waitGroup util.WaitGroupWrapper
}

func (s *Server) incRequests() {
	atomic.AddInt64(&s.requests, 1)
}

func (s *Server) decRequests() {
	atomic.AddInt64(&s.requests, -1)
}

func (s *Server) requestsInFlight() int64 {
	return atomic.LoadInt64(&s.requests)
}

func (s *Server) getCfg() *config.Config {
	return s.config.Load().(*config.Config)
}

func (s *Server) swapCfg(config *config.Config) {
	s.config.Store(config)
}

func NewServer(config *config.Config) (*Server, error) {
	if config.Logger == nil {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		config.Logger = logger
	}
	if _, err := idtype.Parse(config.DefaultIDType); err != nil {
		return nil, err
	}

	s := &Server{
		logger:     config.Logger,
		instanceID: uuid.New().String(),
		startTime:  time.Now(),

		exitChan: make(chan int),

		allocator: registry.NewAllocator(
			registry.WithLogger(config.Logger),
			registry.WithLockTimeout(config.LockTimeout),
			registry.WithRetryDelay(config.LockRetryDelay),
		),
		metrics: metrics.NewMetrics(),
	}
	s.swapCfg(config)

	ctx := context.Background()
	if err := s.loadProviders(ctx, config); err != nil {
		_ = s.closeProviders()
		return nil, err
	}

	listener, err := net.Listen("tcp", config.HTTPAddress)
	if err != nil {
		_ = s.closeProviders()
		return nil, errors.WithStack(err)
	}
	s.httpListener = listener
	s.httpServer = newHTTPServer(s)

	s.logger.Info(
		"Server created",
		zap.String("instanceID", s.instanceID),
		zap.String("registryDir", config.RegistryDir),
		zap.String("sequencer", s.sequencer.Name()),
	)
	return s, nil
}

func (s *Server) loadProviders(ctx context.Context, cfg *config.Config) error {
	if cfg.Sequencer == nil {
		s.sequencer = seqgen.NewCounter()
	} else {
		p, err := config.LoadProvider(ctx, cfg.Sequencer,
			seqgen.NewCounter(),
			redis.NewSequencer(s.logger),
		)
		if err != nil {
			return errors.Wrap(err, "sequencer")
		}
		s.sequencer = p.(seqgen.Sequencer)
	}

	if cfg.Storage != nil {
		p, err := config.LoadProvider(ctx, cfg.Storage,
			postgres.NewStorage(s.logger),
			sqlite.NewStorage(s.logger),
		)
		if err != nil {
			return errors.Wrap(err, "storage")
		}
		s.storage = p.(storage.Storage)
	}
	return nil
}

func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// Addr is the address the HTTP listener is bound to.
func (s *Server) Addr() net.Addr {
	return s.httpListener.Addr()
}

// Main serves until Exit is called or the listener fails.
func (s *Server) Main() error {
	exitCh := make(chan error)
	var once sync.Once
	exitFunc := func(err error) {
		once.Do(func() {
			if err != nil {
				s.logger.Error("Main exit error", zap.Error(err))
			}
			exitCh <- err
		})
	}

	s.waitGroup.Wrap(func() {
		exitFunc(HTTPServer(s.httpListener, s.httpServer, s.logger))
	})

	err := <-exitCh
	return err
}

// Exit stops the listener, waits for Main to return and closes providers.
func (s *Server) Exit() {
	s.exitOnce.Do(func() {
		var err error
		if s.httpServer != nil {
			err = multierr.Append(err, s.httpServer.CloseAll())
		}
		// Serve never ran if Main was not called.
		_ = s.httpListener.Close()
		close(s.exitChan)
		s.waitGroup.Wait()

		err = multierr.Append(err, s.closeProviders())
		if err != nil {
			s.logger.Error("Server exit error", zap.Error(err))
		}
		s.logger.Info("Server exited", zap.Duration("uptime", time.Since(s.startTime)))
	})
}

func (s *Server) closeProviders() error {
	var err error
	if s.sequencer != nil {
		err = multierr.Append(err, s.sequencer.Close())
	}
	if s.storage != nil {
		err = multierr.Append(err, s.storage.Close())
	}
	return err
}
