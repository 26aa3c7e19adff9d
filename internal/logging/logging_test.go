package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func restoreGlobal(t *testing.T) {
	t.Helper()
	prev, lvl := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(lvl)
	})
}

func TestInitWritesFiles(t *testing.T) {
	restoreGlobal(t)

	// Arrange
	dir := t.TempDir()
	closer, err := Init(Config{
		Level:        "info",
		Format:       "json",
		FileEnabled:  true,
		FilePath:     dir,
		RotationSize: 1,
		ServiceName:  "quotewatch",
	})
	require.NoError(t, err)

	// Act
	log.Info().Msg("routine message")
	log.Error().Msg("broken message")
	log.Debug().Msg("hidden message")
	require.NoError(t, closer.Close())

	// Assert
	app, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	require.Contains(t, string(app), "routine message")
	require.Contains(t, string(app), "broken message")
	require.NotContains(t, string(app), "hidden message")
	require.Contains(t, string(app), `"service":"quotewatch"`)

	errs, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	require.Contains(t, string(errs), "broken message")
	require.NotContains(t, string(errs), "routine message")
}

func TestInitRejectsLevel(t *testing.T) {
	restoreGlobal(t)

	_, err := Init(Config{Level: "loud"})

	require.Error(t, err)
}

func TestNewAccessLogger(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l := NewAccessLogger(dir, 1, 1)
	l.Info().Str("path", "/healthz").Msg("request")

	b, err := os.ReadFile(filepath.Join(dir, "access.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), `"type":"access"`)
}
