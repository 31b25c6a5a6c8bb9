package gobayeux

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLogger_Fields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)

	options := newOptions([]Option{WithLogger(base)})
	logger := options.Logger.WithField("at", "connect").WithError(errors.New("boom"))

	logger.Debug("request sent", "channel", "/meta/connect", "dangling")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "request sent", entry.Message)
	assert.Equal(t, "connect", entry.Data["at"])
	assert.Equal(t, "/meta/connect", entry.Data["channel"])
	assert.Equal(t, "dangling", entry.Data["!BADKEY"])
	assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "boom")
}

func TestWithLogger_Levels(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	logger := newOptions([]Option{WithLogger(base)}).Logger

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	entries := hook.AllEntries()
	require.Len(t, entries, 4)
	levels := []logrus.Level{logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}
	for i, entry := range entries {
		assert.Equal(t, levels[i], entry.Level)
	}
}

func TestNullLogger(t *testing.T) {
	logger := newOptions(nil).Logger
	assert.Same(t, logger, logger.WithField("a", 1).WithError(errors.New("x")))
	logger.Error("nothing happens")
}
