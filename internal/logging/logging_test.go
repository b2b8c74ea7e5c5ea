package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/m-mizutani/gt"

	"trustvoice/internal/logging"
)

func TestParseLevel(t *testing.T) {
	lvl, err := logging.ParseLevel("debug")
	gt.NoError(t, err).Required()
	gt.Value(t, lvl).Equal(slog.LevelDebug)

	lvl, err = logging.ParseLevel("")
	gt.NoError(t, err).Required()
	gt.Value(t, lvl).Equal(slog.LevelInfo)

	_, err = logging.ParseLevel("verbose")
	gt.Error(t, err)
}

func TestNewJSONRedactsSecrets(t *testing.T) {
	type credentials struct {
		User   string
		APIKey string `masq:"secret"`
	}

	var buf bytes.Buffer
	logger, err := logging.New(&buf, slog.LevelInfo, logging.FormatJSON, false)
	gt.NoError(t, err).Required()

	logger.Info("configured", "creds", credentials{User: "ops", APIKey: "sk-very-secret"})
	gt.String(t, buf.String()).Contains("ops")
	gt.Bool(t, bytes.Contains(buf.Bytes(), []byte("sk-very-secret"))).False()
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := logging.New(&bytes.Buffer{}, slog.LevelInfo, logging.Format("xml"), false)
	gt.Error(t, err)
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, slog.LevelInfo, logging.FormatJSON, false)
	gt.NoError(t, err).Required()

	ctx := logging.With(context.Background(), logger)
	logging.From(ctx).Info("hello")
	gt.String(t, buf.String()).Contains("hello")

	gt.Value(t, logging.From(context.Background())).Equal(logging.Default())
}
