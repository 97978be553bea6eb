package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLogrusLogger_LevelsAndComponent(t *testing.T) {
	l := NewLogrusLogger(false, "camera")
	buf := &bytes.Buffer{}
	l.entry.Logger.SetOutput(buf)
	l.entry.Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	l.Debug("скрыто %d", 1)
	assert.Empty(t, buf.String())

	l.Info("кадр %dx%d", 320, 240)
	assert.Contains(t, buf.String(), "кадр 320x240")
	assert.Contains(t, buf.String(), "component=camera")

	buf.Reset()
	l.With("relay").Warn("медленный клиент")
	assert.Contains(t, buf.String(), "component=relay")
	assert.Contains(t, buf.String(), "level=warning")
}

func TestLogrusLogger_Debug(t *testing.T) {
	l := NewLogrusLogger(true, "cli")
	buf := &bytes.Buffer{}
	l.entry.Logger.SetOutput(buf)

	l.Debug("отладка")
	assert.Contains(t, buf.String(), "отладка")
}
