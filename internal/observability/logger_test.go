package observability

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStdLoggerFormatsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(log.New(&buf, "", 0), false)

	logger.Error("page fetch failed", F("feed", "messages"), F("skip", 40), F("error", errors.New("boom")))

	require.Equal(t, "ERROR page fetch failed feed=\"messages\" skip=40 error=\"boom\"\n", buf.String())
}

func TestStdLoggerSuppressesDebugUnlessEnabled(t *testing.T) {
	var buf bytes.Buffer
	NewStdLogger(log.New(&buf, "", 0), false).Debug("hidden")
	require.Empty(t, buf.String())

	NewStdLogger(log.New(&buf, "", 0), true).Debug("shown")
	require.Equal(t, "DEBUG shown\n", buf.String())
}

func TestSetLoggerNilFallsBackToNoop(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewStdLogger(log.New(&buf, "", 0), false))
	Log().Info("hello")
	require.NotEmpty(t, buf.String())

	SetLogger(nil)
	buf.Reset()
	Log().Info("dropped")
	require.Empty(t, buf.String())
}
