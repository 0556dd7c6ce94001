package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance.
var Log zerolog.Logger

// Initialize sets up the global logger with configuration.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "sandboxctl").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// Scheduler returns a component logger for the tiered Scheduler.
func Scheduler() *zerolog.Logger {
	l := Log.With().Str("component", "scheduler").Logger()
	return &l
}

// Lifecycle returns a component logger for the Session Lifecycle Manager.
func Lifecycle() *zerolog.Logger {
	l := Log.With().Str("component", "lifecycle").Logger()
	return &l
}

// Execution returns a component logger for the Execution Engine.
func Execution() *zerolog.Logger {
	l := Log.With().Str("component", "execution").Logger()
	return &l
}

// ContainerSched returns a component logger for a Container Scheduler adapter.
func ContainerSched() *zerolog.Logger {
	l := Log.With().Str("component", "container_scheduler").Logger()
	return &l
}

// Reconcile returns a component logger for the State Sync & Reconciliation loop.
func Reconcile() *zerolog.Logger {
	l := Log.With().Str("component", "reconcile").Logger()
	return &l
}

// Database returns a component logger for database operations.
func Database() *zerolog.Logger {
	l := Log.With().Str("component", "database").Logger()
	return &l
}

// HTTP returns a component logger for HTTP request events.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}

// Storage returns a component logger for the object-store adapter.
func Storage() *zerolog.Logger {
	l := Log.With().Str("component", "storage").Logger()
	return &l
}
