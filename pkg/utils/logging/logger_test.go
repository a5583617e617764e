package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

func TestLevels(t *testing.T) {
	testCases := []struct {
		level       string
		expectDebug bool
		expectInfo  bool
		expectWarn  bool
	}{
		{"debug", true, true, true},
		{"", false, true, true},
		{"warning", false, false, true},
		{"ERROR", false, false, false},
		{"verbose", false, true, true}, // unknown level falls back to info
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.New(logging.Config{Level: tc.level, Writer: buf})

			logger.Debug("debug message")
			logger.Info("info message")
			logger.Warn("warn message")
			logger.Error("error message")

			output := buf.String()
			gt.S(t, output).Contains("error message")
			if tc.expectDebug {
				gt.S(t, output).Contains("debug message")
			} else {
				gt.S(t, output).NotContains("debug message")
			}
			if tc.expectInfo {
				gt.S(t, output).Contains("info message")
			} else {
				gt.S(t, output).NotContains("info message")
			}
			if tc.expectWarn {
				gt.S(t, output).Contains("warn message")
			} else {
				gt.S(t, output).NotContains("warn message")
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(logging.Config{Format: logging.FormatJSON, Writer: buf})

	logger.Info("memory added", "collection", "pets", logging.ErrAttr(goerr.New("boom")))

	var record map[string]any
	gt.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	gt.Equal(t, record["msg"], any("memory added"))
	gt.Equal(t, record["collection"], any("pets"))
	gt.S(t, buf.String()).Contains("boom")
}

func TestContextLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New(logging.Config{Level: "debug", Writer: buf}).With("component", "test")

	ctx := logging.With(context.Background(), logger)
	gt.Equal(t, logging.From(ctx), logger)

	logging.From(ctx).Info("context message")
	gt.S(t, buf.String()).Contains("context message")
	gt.S(t, buf.String()).Contains("component")
}

func TestFromUsesDefault(t *testing.T) {
	original := logging.Default()
	defer logging.SetDefault(original)

	buf := &bytes.Buffer{}
	custom := logging.New(logging.Config{Level: "warn", Writer: buf})
	logging.SetDefault(custom)

	retrieved := logging.From(context.Background())
	gt.Equal(t, retrieved, custom)

	retrieved.Warn("warning from default")
	gt.S(t, buf.String()).Contains("warning from default")

	// nil never replaces the default
	logging.SetDefault(nil)
	gt.Equal(t, logging.Default(), custom)
}
