// Package logx provides the structured logger used by every package in
// this module: Debug/Info/Warn/Error with trailing key-value pairs,
// backed by logrus so output is field-structured and can be redirected
// and reformatted without touching call sites.
package logx

import (
	"io"
	"os"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Entry, giving every call site a stable
// Debug/Info/Warn/Error(msg, kv...) signature regardless of backend.
type Logger struct {
	entry *logrus.Entry
}

// New creates a root logger writing to stdout with the nested formatter.
func New() *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&formatter.Formatter{
		TimestampFormat: "2006-01-02 15:04:05",
		HideKeys:        true,
		NoColors:        false,
	})
	base.SetLevel(logrus.InfoLevel)
	return &Logger{entry: logrus.NewEntry(base)}
}

// NewWithWriter is used by tests to capture output.
func NewWithWriter(w io.Writer) *Logger {
	l := New()
	l.entry.Logger.SetOutput(w)
	l.entry.Logger.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	return l
}

// SetLevel adjusts the minimum level that will be emitted.
func (l *Logger) SetLevel(level string) {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	l.entry.Logger.SetLevel(lv)
}

// With returns a child logger carrying the given network/component name,
// the way every network-scoped goroutine tags its log lines.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		f[key] = keysAndValues[i+1]
	}
	return f
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(l.fields(keysAndValues)).Debug(msg)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(l.fields(keysAndValues)).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(l.fields(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(l.fields(keysAndValues)).Error(msg)
}
