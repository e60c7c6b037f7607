package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceCapturesOutput(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	Info("chunk stored", String("trackId", "t1"), Int("part", 2))
	Error("merge failed", ErrorField(errors.New("boom")))

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "chunk stored", entries[0].Message)
		assert.Equal(t, "t1", entries[0].ContextMap()["trackId"])
		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	}
}

func TestLNeverNil(t *testing.T) {
	assert.NotNil(t, L())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel(DebugLevel))
	assert.Equal(t, zapcore.WarnLevel, parseLevel(WarnLevel))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}
