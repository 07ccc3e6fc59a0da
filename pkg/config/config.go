// Package config holds process-wide tunables for the runner. Database
// pool configuration lives in pkg/db instead, alongside the Connect
// function it configures.
package config

import "time"

// EngineConfig holds process-wide tunables for the runner.
type EngineConfig struct {
	// NodeCallableTimeout is the deadline set on the context passed to a
	// single landingHandler, condition, or joiner callable. The runner
	// does not stop a callable that ignores its context; an error the
	// callable returns is reported as a wferr.CodeExecutionError.
	NodeCallableTimeout time.Duration
}

// DefaultEngineConfig returns sensible defaults for EngineConfig.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		NodeCallableTimeout: 10 * time.Second,
	}
}
