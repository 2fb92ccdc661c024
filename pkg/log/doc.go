/*
Package log provides structured logging for the server using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            Global Logger                   │           │
	│  │  - Zerolog instance                        │           │
	│  │  - Initialized via log.Init()              │           │
	│  │  - Thread-safe for concurrent use          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Configuration                    │           │
	│  │  - Level: debug/info/warn/error            │           │
	│  │  - Format: JSON or console (human)         │           │
	│  │  - Output: stdout, file, or custom writer  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Component Loggers                  │           │
	│  │  - WithComponent("storage")                │           │
	│  │  - WithProcedure("system/status")          │           │
	│  │  - WithConnection("db")                    │           │
	│  │  - WithPlugin("crm")                       │           │
	│  └────────────────────────────────────────────┘           │
	│                                                           │
	└───────────────────────────────────────────────────────────┘

# Component Loggers

Every kernel package derives a child logger carrying its component
field, so output can be filtered per subsystem:

	storage, plugin, web, proc, pool, scheduler, session, app

Request handling additionally tags entries with the request id, and
procedure execution with the procedure name.

# Usage

Initialize once at startup:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Derive component loggers where subsystems are constructed:

	logger := log.WithComponent("plugin")
	logger.Info().Str("plugin", id).Msg("Plugin loaded")

Console output (JSONOutput false) renders human-readable lines for
development; JSON output is the production form.

# Levels

Debug carries per-request and per-call detail (matcher selection,
cache eviction, channel reuse), Info lifecycle transitions (mounts,
plug-in loads, server start/stop), Warn recoverable faults
(write-back failures, background task errors), and Error faults that
lose work.
*/
package log
