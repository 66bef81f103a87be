package muatan

import (
	"log"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger is the minimal structured logging interface the client core emits
// debug output through. Key/value pairs alternate in kv.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// DebugConfig controls which pipeline events are logged.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	LogCache     bool
	LogAuth      bool
	RequestIDGen func() string
}

// DefaultDebugConfig enables all event categories with UUID request IDs.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogRetries:   true,
		LogCache:     true,
		LogAuth:      true,
		RequestIDGen: uuid.NewString,
	}
}

// SimpleLogger writes key=value lines through the standard library logger.
type SimpleLogger struct {
	l *log.Logger
}

// NewSimpleLogger returns a console logger on stderr.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{l: log.New(os.Stderr, "muatan ", log.LstdFlags|log.Lmicroseconds)}
}

func (s *SimpleLogger) Debug(msg string, kv ...any) { s.print("DEBUG", msg, kv) }
func (s *SimpleLogger) Info(msg string, kv ...any)  { s.print("INFO", msg, kv) }
func (s *SimpleLogger) Warn(msg string, kv ...any)  { s.print("WARN", msg, kv) }
func (s *SimpleLogger) Error(msg string, kv ...any) { s.print("ERROR", msg, kv) }

func (s *SimpleLogger) print(level, msg string, kv []any) {
	args := make([]any, 0, len(kv)+2)
	args = append(args, level, msg)
	args = append(args, kv...)
	s.l.Println(args...)
}

// ZapLogger adapts a zap logger to the Logger interface so host applications
// that already log with zap get uniform output.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps a *zap.Logger. Caller skipping is adjusted so call sites
// inside the client core are reported.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z *ZapLogger) Debug(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
func (z *ZapLogger) Info(msg string, kv ...any)  { z.s.Infow(msg, kv...) }
func (z *ZapLogger) Warn(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z *ZapLogger) Error(msg string, kv ...any) { z.s.Errorw(msg, kv...) }
