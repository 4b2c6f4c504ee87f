package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	drepo "TPMForge/internal/domain/repository"
	"TPMForge/internal/middleware"
	"TPMForge/internal/usecase"
	pkgch "TPMForge/pkg/clickhouse"
	"TPMForge/pkg/config"
	xhttp "TPMForge/pkg/http"
	pkgkafka "TPMForge/pkg/kafka"
	applogger "TPMForge/pkg/logger"
)

// DefaultRetryDelay is the pause after a failed cycle.
const DefaultRetryDelay = 5 * time.Second

// App encapsulates the entire application lifecycle.
type App struct {
	cfg      *config.Config
	log      *applogger.Logger
	cycle    *usecase.ForgeCycle
	proc     *usecase.FrameProcessor
	bank     *usecase.DetectorBank
	hub      *usecase.FrameHub
	pipeline *middleware.TickPipeline
	consumer *pkgkafka.Consumer
	kh       pkgkafka.MessageHandler
	chClient *pkgch.Client
	history  drepo.ObservationStore
	closers  []io.Closer

	handlers   []xhttp.Handler
	httpServer *xhttp.Server
	retryDelay time.Duration
}

// Options carries the optional parts of an App; nil fields are skipped.
type Options struct {
	Consumer *pkgkafka.Consumer
	Ticks    pkgkafka.MessageHandler
	CH       *pkgch.Client
	History  drepo.ObservationStore
	Handlers []xhttp.Handler
	Closers  []io.Closer
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	cycle *usecase.ForgeCycle,
	proc *usecase.FrameProcessor,
	bank *usecase.DetectorBank,
	hub *usecase.FrameHub,
	pipeline *middleware.TickPipeline,
	opts Options,
) *App {
	if log == nil {
		log = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		log:        log,
		cycle:      cycle,
		proc:       proc,
		bank:       bank,
		hub:        hub,
		pipeline:   pipeline,
		consumer:   opts.Consumer,
		kh:         opts.Ticks,
		chClient:   opts.CH,
		history:    opts.History,
		handlers:   opts.Handlers,
		closers:    opts.Closers,
		retryDelay: DefaultRetryDelay,
	}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	if a.history != nil {
		if err := a.cycle.WarmStart(ctx, a.history); err != nil {
			a.log.Warn("warm start skipped", applogger.Error(err))
		}
	}

	if a.pipeline != nil {
		a.pipeline.Start(ctx)
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer error", applogger.Error(err))
		} else {
			a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
		}
	}

	metricsPath := a.cfg.Metrics.Path
	if !a.cfg.Metrics.Enabled {
		metricsPath = ""
	}
	a.httpServer = xhttp.NewServer(a.handlers,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(a.cfg.Server.CORS),
		xhttp.WithLogger(a.log),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	a.log.Info("forge started",
		applogger.String("backend", a.proc.Backend()),
		applogger.Int("agents", a.cycle.Agents().Len()),
		applogger.Duration("interval", a.cfg.Engine.Interval),
	)
	a.Loop(ctx)

	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// Loop runs a cycle immediately and then every engine interval until ctx is
// done. A failed cycle stores an error frame and retries after the retry delay.
func (a *App) Loop(ctx context.Context) {
	for {
		wait := a.cfg.Engine.Interval
		_, err := a.cycle.Tick(ctx)
		switch {
		case err == nil:
		case errors.Is(err, usecase.ErrCycleBusy):
			a.log.Debug("cycle held by another runner")
		case ctx.Err() != nil:
			return
		default:
			a.log.Error("cycle failed", applogger.Error(err))
			a.cycle.RecordFailure(ctx, err)
			wait = a.retryDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.pipeline != nil {
		a.pipeline.Stop()
	}
	if a.bank != nil {
		a.bank.Close()
	}

	// flush aggregated logs while the producer is still open
	a.log.RemoveCollector()

	// publisher (kafka producer) and storage
	if err := a.proc.Close(); err != nil {
		a.log.Warn("frame processor close error", applogger.Error(err))
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
	return nil
}

// SetRetryDelay overrides the pause after a failed cycle.
func (a *App) SetRetryDelay(d time.Duration) { a.retryDelay = d }
