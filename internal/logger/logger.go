package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the process logger. It embeds zerolog.Logger and owns the log
// file handle, if one was opened.
type Logger struct {
	zerolog.Logger
	file io.Closer
}

// Config selects the sinks and level of the process logger
type Config struct {
	Level     string // debug, info, warn, error
	File      string // optional log file
	Console   bool   // write to stderr
	Pretty    bool   // human readable stderr output
	Redaction bool   // mask provider credentials
	MaxSize   int    // MB before rotation, 0 keeps a single file
	MaxAge    int    // days to keep rotated files
	Compress  bool   // gzip rotated files

	Secrets []string // literal values to mask when Redaction is on
}

// DefaultConfig logs warnings and above to stderr
func DefaultConfig() Config {
	return Config{
		Level:     "warn",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   50,
		MaxAge:    7,
		Compress:  true,
	}
}

// New builds the process logger and installs it as the zerolog global.
// Stdout is never used; it carries the final answer.
func New(cfg Config) (*Logger, error) {
	sinks, file, err := openSinks(cfg)
	if err != nil {
		return nil, err
	}

	out := combine(sinks)
	if cfg.Redaction {
		out = NewRedactor(cfg.Secrets...).Wrap(out)
	}

	zl := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	log.Logger = zl

	return &Logger{Logger: zl, file: file}, nil
}

// GetZerolog returns a copy of the underlying logger for components that
// take a zerolog.Logger by value.
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.Logger
}

// Close releases the log file
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func openSinks(cfg Config) ([]io.Writer, io.Closer, error) {
	var sinks []io.Writer
	if cfg.Console {
		if cfg.Pretty {
			sinks = append(sinks, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		} else {
			sinks = append(sinks, os.Stderr)
		}
	}

	if cfg.File == "" {
		return sinks, nil, nil
	}

	var file io.WriteCloser
	if cfg.MaxSize > 0 {
		rw, err := NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, nil, err
		}
		file = rw
	} else {
		f, err := openLogFile(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		file = f
	}
	return append(sinks, file), file, nil
}

func combine(sinks []io.Writer) io.Writer {
	switch len(sinks) {
	case 0:
		return io.Discard
	case 1:
		return sinks[0]
	default:
		return io.MultiWriter(sinks...)
	}
}
