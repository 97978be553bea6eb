package logger

import (
	"io"

	"github.com/sirupsen/logrus"

	"webcamhead/internal/application"
)

// LogrusLogger реализация application.Logger поверх logrus
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger создает новый логгер. component попадает в поле каждой записи.
func NewLogrusLogger(debugEnabled bool, component string) *LogrusLogger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debugEnabled {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
	return &LogrusLogger{entry: base.WithField("component", component)}
}

// NewDiscardLogger логгер без вывода, для тестов
func NewDiscardLogger() *LogrusLogger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &LogrusLogger{entry: logrus.NewEntry(base)}
}

// With возвращает логгер с подменным полем component
func (l *LogrusLogger) With(component string) application.Logger {
	return &LogrusLogger{entry: l.entry.WithField("component", component)}
}

// Info логирует информационное сообщение
func (l *LogrusLogger) Info(msg string, args ...interface{}) {
	l.entry.Infof(msg, args...)
}

// Warn логирует предупреждение
func (l *LogrusLogger) Warn(msg string, args ...interface{}) {
	l.entry.Warnf(msg, args...)
}

// Error логирует сообщение об ошибке
func (l *LogrusLogger) Error(msg string, args ...interface{}) {
	l.entry.Errorf(msg, args...)
}

// Debug логирует отладочное сообщение
func (l *LogrusLogger) Debug(msg string, args ...interface{}) {
	l.entry.Debugf(msg, args...)
}
