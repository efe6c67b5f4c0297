// SPDX-License-Identifier: MIT

package daemon

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ServerConfig holds the listeners of the daemon and its shutdown budgets.
type ServerConfig struct {
	ListenAddr string
	// MetricsListenAddr serves /metrics on its own listener when set.
	MetricsListenAddr string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// ShutdownTimeout is the drain window for open requests. Live streams
	// still open when it elapses are cut.
	ShutdownTimeout time.Duration
	// HookTimeout bounds each shutdown hook.
	HookTimeout time.Duration
}

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	Logger     zerolog.Logger
	APIHandler http.Handler
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
