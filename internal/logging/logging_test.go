package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuild_Levels(t *testing.T) {
	cases := map[string]zap.AtomicLevel{
		"debug": zap.NewAtomicLevelAt(zap.DebugLevel),
		"warn":  zap.NewAtomicLevelAt(zap.WarnLevel),
		"bogus": zap.NewAtomicLevelAt(zap.InfoLevel),
	}
	for level, want := range cases {
		l, err := Build(level, "console")
		require.NoError(t, err, level)
		assert.Equal(t, want.Level().Enabled(zap.DebugLevel), l.Core().Enabled(zap.DebugLevel), level)
		assert.Equal(t, want.Level().Enabled(zap.InfoLevel), l.Core().Enabled(zap.InfoLevel), level)
	}
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_ENCODING", "json")

	l, err := New()
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.WarnLevel))
	assert.True(t, l.Core().Enabled(zap.ErrorLevel))
}
