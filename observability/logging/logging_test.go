package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Debug("hidden")
	logger.Warn("pool accrued", "mint", "hmint1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "WARN", line["severity"])
	require.Equal(t, "pool accrued", line["message"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, "hmint1", line["mint"])
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("hmacSecret", "s3cr3t").Value.String())
	require.Equal(t, RedactedValue, MaskField("Authorization", "Bearer abc").Value.String())
	require.Equal(t, "hmkt1", MaskField("market", "hmkt1").Value.String())
	require.Equal(t, " ", MaskField("token", " ").Value.String())
	require.True(t, IsSensitive("DB_PASSWORD"))
	require.False(t, IsSensitive("owner"))
}

func TestMaskDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://hedge:pw@db:5432/events?sslmode=disable": "postgres://hedge:" + RedactedValue + "@db:5432/events?sslmode=disable",
		"host=db user=hedge password=pw dbname=events":        "host=db user=hedge password=" + RedactedValue + " dbname=events",
		"host=db password='p w' dbname=events":                "host=db password=" + RedactedValue + " dbname=events",
		"data/lendingd-events.db":                             "data/lendingd-events.db",
		"postgres://hedge@db/events":                          "postgres://hedge@db/events",
	}
	for dsn, want := range cases {
		require.Equal(t, want, MaskDSN(dsn), dsn)
	}
}

func TestSetupWithFileWritesRotatedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lendingd.log")
	logger, closer, err := SetupWithFile("lendingd", "test", "debug", FileConfig{Path: path})
	require.NoError(t, err)
	logger.Debug("started")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"service":"lendingd"`)
	require.Contains(t, string(data), `"message":"started"`)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}
