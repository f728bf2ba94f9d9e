package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/static-server/config"
	"github.com/searchktools/static-server/core"
)

// App wires configuration, logging and the engine into one process
type App struct {
	cfg    *config.Config
	log    *logrus.Logger
	engine *core.Engine
}

// New creates an application instance
func New(cfg *config.Config) (*App, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	engine, err := core.NewEngine(EngineOptions(cfg, logrus.NewEntry(logger)))
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	return &App{
		cfg:    cfg,
		log:    logger,
		engine: engine,
	}, nil
}

// NewLogger builds the process logger: text output in development, JSON
// in production
func NewLogger(cfg *config.Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	if cfg.Production() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// EngineOptions maps configuration onto engine options
func EngineOptions(cfg *config.Config, log *logrus.Entry) core.Options {
	return core.Options{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Root:         cfg.Path,
		Workers:      cfg.Workers,
		MaxClients:   cfg.MaxClients,
		BufferSize:   cfg.BufferSize,
		MaxURILength: cfg.URIMax,
		MaxHeaders:   cfg.MaxHeaders,
		WaitTimeout:  cfg.WaitTimeout,
		ServerName:   cfg.ServerName,
		Logger:       log,
	}
}

// Engine returns the underlying engine
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Run starts the engine and blocks until ctx is done or SIGINT/SIGTERM
// arrives, then terminates it
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.engine.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	a.log.WithFields(logrus.Fields{
		"addr":    a.engine.Addr().String(),
		"root":    a.cfg.Path,
		"workers": a.cfg.Workers,
		"env":     a.cfg.Env,
	}).Info("static server listening")

	<-ctx.Done()
	a.log.Info("shutting down")

	err := a.engine.Terminate()
	a.log.WithFields(logrus.Fields{
		"accepted": a.engine.Stats().Accepted,
		"handled":  a.engine.Stats().Handled,
		"rejected": a.engine.Stats().Rejected,
	}).Info("engine stopped")
	for _, b := range a.engine.Monitor().Bottlenecks() {
		a.log.WithFields(logrus.Fields{
			"type":     b.Type,
			"method":   b.Location,
			"severity": b.Severity,
		}).Warn(b.Details)
	}
	a.log.Debug(a.engine.StatsText())

	if err != nil {
		return fmt.Errorf("terminate engine: %w", err)
	}
	return nil
}
