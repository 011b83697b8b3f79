package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/strata/pkg/utils/logging"
)

func TestNew(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", buf)
	gt.V(t, logger).NotNil()

	logger.Info("test message")
	gt.S(t, buf.String()).Contains("test message")
}

func TestNewWithDifferentLevels(t *testing.T) {
	testCases := []struct {
		level       string
		expectDebug bool
		expectInfo  bool
		expectWarn  bool
		expectError bool
	}{
		{"debug", true, true, true, true},
		{"info", false, true, true, true},
		{"warn", false, false, true, true},
		{"warning", false, false, true, true},
		{"error", false, false, false, true},
		{"DEBUG", true, true, true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.New(tc.level, buf)

			logger.Debug("debug message")
			logger.Info("info message")
			logger.Warn("warn message")
			logger.Error("error message")

			output := buf.String()
			check := func(expect bool, msg string) {
				if expect {
					gt.S(t, output).Contains(msg)
				} else {
					gt.S(t, output).NotContains(msg)
				}
			}
			check(tc.expectDebug, "debug message")
			check(tc.expectInfo, "info message")
			check(tc.expectWarn, "warn message")
			check(tc.expectError, "error message")
		})
	}
}

func TestParseLevel(t *testing.T) {
	lv, ok := logging.ParseLevel("Warning")
	gt.True(t, ok)
	gt.V(t, lv).Equal(slog.LevelWarn)

	lv, ok = logging.ParseLevel("verbose")
	gt.V(t, ok).Equal(false)
	gt.V(t, lv).Equal(slog.LevelInfo)
}

func TestInvalidLevelWarns(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("verbose", buf)
	gt.S(t, buf.String()).Contains("invalid log level")

	logger.Debug("hidden")
	gt.S(t, buf.String()).NotContains("hidden")
}

func TestNewJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.NewJSON("info", buf)
	logger.Info("json message", "tsid", "202602260705")
	gt.S(t, buf.String()).Contains(`"msg":"json message"`)
	gt.S(t, buf.String()).Contains(`"tsid":"202602260705"`)
}

func TestWithAndFrom(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("debug", buf).With("component", "router")

	ctx := logging.With(context.Background(), logger)
	retrieved := logging.From(ctx)
	gt.Equal(t, retrieved, logger)

	retrieved.Info("context message")
	gt.S(t, buf.String()).Contains("context message")
	gt.S(t, buf.String()).Contains("router")
}

func TestFromUsesDefault(t *testing.T) {
	original := logging.Default()
	defer logging.SetDefault(original)

	buf := &bytes.Buffer{}
	custom := logging.New("warn", buf)
	logging.SetDefault(custom)

	retrieved := logging.From(context.Background())
	gt.Equal(t, retrieved, custom)

	retrieved.Warn("warning from default")
	gt.S(t, buf.String()).Contains("warning from default")
}
