package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewProductionLogger(t *testing.T) {
	log, err := New("info", false)
	require.NoError(t, err)
	require.NotNil(t, log)
	defer log.Sync()
}

func TestNewDevelopmentLogger(t *testing.T) {
	log, err := New("debug", true)
	require.NoError(t, err)
	require.NotNil(t, log)
	defer log.Sync()
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("not-a-level", false)
	assert.Error(t, err)
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	level, err := parseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level)
}
