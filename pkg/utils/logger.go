// pkg/utils/logger.go
package utils

import (
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config configure le logger
type Config struct {
	LogLevel  string
	LogFormat string // "text" ou "json"
	Pretty    bool
	Output    io.Writer
}

// Logger embeds logrus so services can call Info/WithFields directly
type Logger struct {
	*logrus.Logger
}

// NewLogger builds a logrus logger from the config. Unknown levels fall back to info.
func NewLogger(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.LogFormat, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			PrettyPrint:     cfg.Pretty,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			ForceColors:     cfg.Pretty,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l}
}

// WithFunc tags the entry with the calling function name
func (l *Logger) WithFunc() *logrus.Entry {
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return logrus.NewEntry(l.Logger)
	}
	name := runtime.FuncForPC(pc).Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return l.WithField("func", name)
}

// NewTestLogger discards everything, for tests
func NewTestLogger() *Logger {
	return NewLogger(Config{LogLevel: "error", LogFormat: "text", Output: io.Discard})
}
