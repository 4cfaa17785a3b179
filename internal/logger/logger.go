package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// output is shared by every logger ever derived from Logger, so component loggers created
	// at package init pick up the writer chosen later by Initialize.
	output = &switchWriter{w: consoleWriter()}

	// Global logger instance
	Logger = zerolog.New(output).With().Timestamp().Caller().Logger()
)

type switchWriter struct {
	mu sync.RWMutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w.Write(p)
}

func (s *switchWriter) set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    false,
	}
}

// Initialize sets up the global logger. Format "json" writes structured lines for log shippers,
// anything else uses the human-readable console writer.
func Initialize(logLevel string, format string) {
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "json" {
		output.set(os.Stdout)
	} else {
		output.set(consoleWriter())
	}

	zerolog.SetGlobalLevel(ParseLevel(logLevel))

	// Replace standard log with zerolog
	log.Logger = Logger
}

// SetOutput redirects all loggers, e.g. to a buffer in tests.
func SetOutput(w io.Writer) {
	output.set(w)
}

// ParseLevel maps a configured level name to a zerolog level, defaulting to info.
func ParseLevel(logLevel string) zerolog.Level {
	switch logLevel {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &Logger
}

// GetForComponent returns a logger with a component field for better filtering
func GetForComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
