// Package app provides the application lifecycle of the datagen service.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	grpcapi "github.com/datagen/datagen/internal/api/grpc"
	httpapi "github.com/datagen/datagen/internal/api/http"
	"github.com/datagen/datagen/internal/catalog"
	"github.com/datagen/datagen/internal/config"
	"github.com/datagen/datagen/internal/exports"
	"github.com/datagen/datagen/internal/logging"
	"github.com/datagen/datagen/internal/observability"
	"github.com/datagen/datagen/internal/server"
	"github.com/datagen/datagen/internal/storage"
	"github.com/datagen/datagen/internal/stream"
	"github.com/datagen/datagen/internal/synth"
	"github.com/datagen/datagen/internal/validation"
)

// Version is reported by the health endpoint and the CLI.
var Version = "dev"

// App manages the datagen service lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	// Shared resources
	validator *validation.Validator
	synth     *synth.Synthesizer
	stats     *observability.GenerationStats
	storage   storage.ObjectStorage
	catalog   *catalog.SQLiteCatalog
	exports   *exports.Manager
	shutdown  *server.ShutdownManager

	// Servers
	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:    cfg,
		logger: logging.NewLogger("App"),
	}, nil
}

// Start initializes shared resources and starts the HTTP and gRPC servers.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if err := a.startHTTP(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start http server: %w", err)
	}

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start grpc server: %w", err)
		}
	}

	a.logger.Infof("datagen %s started", Version)
	return nil
}

// sessionOptions returns the session settings shared by every transport.
func (a *App) sessionOptions() stream.Options {
	return stream.Options{
		FlushEvery:   a.cfg.Generation.FlushEvery,
		EscapeMarkup: a.cfg.Generation.EscapeMarkup,
		Observer:     a.stats,
	}
}

// initSharedResources initializes generation, export storage, the job
// catalog and the shutdown manager.
func (a *App) initSharedResources(ctx context.Context) error {
	a.validator = validation.NewValidator(a.cfg.Generation.MaxFileSizeMB)
	a.synth = synth.NewSynthesizer(nil)
	a.stats = observability.NewGenerationStats()
	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	a.shutdown.OnShutdownStart(func(reason string) {
		a.logger.Infof("shutdown started: %s (%d streams in flight)", reason, a.shutdown.InFlightCount())
	})

	if !a.cfg.Exports.Enabled {
		a.logger.Infof("exports disabled")
		return nil
	}

	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.logger.Infof("storage initialized: type=%s", a.cfg.Storage.Type)
	if a.cfg.Storage.Type == "s3" {
		a.logger.Infof("s3 config: bucket=%s, region=%s, endpoint=%s",
			a.cfg.Storage.S3.Bucket, a.cfg.Storage.S3.Region, a.cfg.Storage.S3.Endpoint)
	}

	a.catalog, err = catalog.NewCatalog(a.cfg.CatalogPath())
	if err != nil {
		return fmt.Errorf("failed to initialize job catalog: %w", err)
	}
	a.logger.Infof("job catalog initialized: %s", a.cfg.CatalogPath())

	a.exports = exports.NewManager(exports.Config{
		WorkDir:       a.cfg.Exports.WorkDir,
		MaxConcurrent: a.cfg.Exports.MaxConcurrent,
		Compress:      a.cfg.Exports.Compress,
		WriteBuffer:   a.cfg.WriteBufferBytes(),
		Retention:     a.cfg.Exports.Retention.Std(),
		SweepInterval: a.cfg.Exports.SweepInterval.Std(),
		Session:       a.sessionOptions(),
	}, a.catalog, a.storage, a.synth)
	if err := a.exports.Start(ctx); err != nil {
		return fmt.Errorf("failed to start export manager: %w", err)
	}

	// Closers run in reverse: exports stop before the catalog closes.
	a.shutdown.RegisterCloser(a.catalog)
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.exports.Shutdown(ctx)
	}))
	return nil
}

// startHTTP starts the HTTP API server.
func (a *App) startHTTP() error {
	handler := httpapi.NewRouter(httpapi.RouterConfig{
		Validator:    a.validator,
		Synthesizer:  a.synth,
		Session:      a.sessionOptions(),
		WriteBuffer:  a.cfg.WriteBufferBytes(),
		Stats:        a.stats,
		Exports:      a.exports,
		Middleware:   []func(http.Handler) http.Handler{server.ShutdownMiddleware(a.shutdown)},
		Version:      Version,
		ShuttingDown: a.shutdown.IsShuttingDown,
	})

	a.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout: a.cfg.HTTP.WriteTimeout.Std(),
		IdleTimeout:  a.cfg.HTTP.IdleTimeout.Std(),
		BaseContext: func(net.Listener) context.Context {
			return a.shutdown.BaseContext()
		},
	}

	var err error
	a.httpListener, err = net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on http address: %w", err)
	}

	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Infof("HTTP server listening on %s", a.httpListener.Addr())
		if err := a.httpServer.Serve(a.httpListener); err != nil && err != http.ErrServerClosed {
			a.logger.Errorf("HTTP server error: %v", err)
		}
	}()
	return nil
}

// startGRPC starts the gRPC generator service.
func (a *App) startGRPC() error {
	a.grpcServer = grpc.NewServer(grpc.StreamInterceptor(a.shutdown.StreamInterceptor()))
	grpcapi.NewGeneratorServer(a.validator, a.synth, grpcapi.ServerConfig{
		ChannelDepth: a.cfg.Generation.ChannelDepth,
		ChunkSize:    a.cfg.ChunkSizeBytes(),
		Session:      a.sessionOptions(),
	}).Register(a.grpcServer)

	var err error
	a.grpcListener, err = net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}

	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Infof("gRPC server listening on %s", a.grpcListener.Addr())
		if err := a.grpcServer.Serve(a.grpcListener); err != nil {
			a.logger.Errorf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// HTTPAddr returns the address the HTTP server listens on.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the address the gRPC server listens on.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Stats returns the generation counters.
func (a *App) Stats() *observability.GenerationStats {
	return a.stats
}

// Stop drains in-flight streams and releases all resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	a.logger.Infof("initiating graceful shutdown...")

	if a.cancel != nil {
		a.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.shutdown.Shutdown(shutdownCtx, "stop requested"); err != nil {
		a.logger.Warnf("shutdown: %v", err)
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warnf("shutdown timeout, some goroutines may not have finished")
	}

	a.logger.Infof("datagen stopped")
	return nil
}

// cleanup releases resources after a failed start.
func (a *App) cleanup() {
	if a.httpListener != nil {
		a.httpListener.Close()
	}
	if a.grpcListener != nil {
		a.grpcListener.Close()
	}
	if a.exports != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.exports.Shutdown(ctx)
		cancel()
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
}

// WaitForShutdown blocks until a shutdown signal is received or ctx ends.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
