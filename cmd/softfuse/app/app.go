// Package app provides the application context and dependency
// management for the softfuse CLI: configuration, logging, and the
// lazily created engine instance.
package app

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/softfuse/softfuse"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/sources"
)

// App represents the softfuse application with all its dependencies.
type App struct {
	version string
	commit  string
	date    string

	config *Config
	logger *zerolog.Logger

	// Engine instance (lazy-initialized, singleton)
	mu     sync.RWMutex
	engine softfuse.SoftFuse
}

// New creates a new App instance with the given version information.
func New(version, commit, date string) (*App, error) {
	a := &App{
		version: version,
		commit:  commit,
		date:    date,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	a.config = config

	logger := NewLogger(config)
	a.logger = &logger

	return a, nil
}

// Version returns the version string.
func (a *App) Version() string {
	return a.version
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Engine returns the softfuse instance, creating it lazily. It is
// safe for concurrent use and creates at most one instance.
func (a *App) Engine() (softfuse.SoftFuse, error) {
	a.mu.RLock()
	if a.engine != nil {
		engine := a.engine
		a.mu.RUnlock()
		return engine, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine != nil {
		return a.engine, nil
	}

	opts, err := a.engineOptions()
	if err != nil {
		return nil, err
	}
	engine, err := softfuse.New(opts...)
	if err != nil {
		return nil, errors.WrapResource("create", "engine", "", err)
	}
	a.engine = engine
	return engine, nil
}

func (a *App) engineOptions() ([]softfuse.Option, error) {
	var opts []softfuse.Option

	if a.config.DatabasePath != "" {
		opts = append(opts, softfuse.WithSQLite(a.config.DatabasePath))
	}
	if a.config.SourcesFile != "" {
		registry, err := sources.LoadFile(a.config.SourcesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, softfuse.WithSources(registry))
	}
	if a.config.StalenessWindow > 0 {
		opts = append(opts, softfuse.WithStalenessWindow(a.config.StalenessWindow))
	}
	if a.config.RefreshInterval > 0 {
		opts = append(opts, softfuse.WithRefreshInterval(a.config.RefreshInterval))
	}
	if a.config.RefreshConcurrency > 0 {
		opts = append(opts, softfuse.WithRefreshConcurrency(a.config.RefreshConcurrency))
	}
	return opts, nil
}

// Shutdown releases the engine if one was created.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine == nil {
		return nil
	}
	err := a.engine.Close()
	a.engine = nil
	return err
}
