package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateekraj3711-alt/PwC/internal/config"
)

func TestGetLoggerNeverNil(t *testing.T) {
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Info("logger usable in any initialization state") })
}

func TestInitializeLoggerIsIdempotent(t *testing.T) {
	cfg := config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "test-service",
		Colors: config.ColorConfig{
			Debug: "cyan", Info: "green", Warn: "yellow", Error: "red", Fatal: "magenta",
		},
	}
	InitializeLogger(cfg)
	first := GetLogger()
	require.NotNil(t, first)

	InitializeLogger(cfg)
	assert.Same(t, first, GetLogger(), "re-initialization must not replace the logger")

	assert.NotPanics(t, func() {
		first.Named("component").Debug("structured logging works")
		Sync()
	})
}
