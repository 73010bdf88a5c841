package notification

import (
	"log/slog"
	"sync"

	"github.com/ovationhq/ovation-notify/internal/logging"
)

var (
	// fileLogger is the dedicated file logger for the notification store
	fileLogger *slog.Logger
	// levelVar allows dynamic log level adjustment
	levelVar *slog.LevelVar
	// loggerCloser stores the cleanup function for the log file
	loggerCloser func() error
	loggerOnce   sync.Once
)

// initLogger initializes the dedicated file logger for notifications
func initLogger() {
	loggerOnce.Do(func() {
		levelVar = new(slog.LevelVar)
		levelVar.Set(slog.LevelInfo)

		logger, closer, err := logging.NewFileLogger("logs/notifications.log", "notifications", levelVar, nil)
		if err != nil || logger == nil {
			// Fall back to the default logger if file logger creation fails
			fileLogger = slog.Default().With("service", "notifications")
			return
		}

		fileLogger = logger
		loggerCloser = closer
	})
}

// getLogger returns the package logger, initializing it if necessary
func getLogger() *slog.Logger {
	if fileLogger == nil {
		initLogger()
	}
	return fileLogger
}

// SetDebugLevel toggles debug logging for the notification store
func SetDebugLevel(debug bool) {
	if levelVar != nil {
		if debug {
			levelVar.Set(slog.LevelDebug)
		} else {
			levelVar.Set(slog.LevelInfo)
		}
	}
}

// CloseLogger closes the log file and cleans up resources
func CloseLogger() error {
	if loggerCloser != nil {
		return loggerCloser()
	}
	return nil
}
