package copilot

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/zhubert/copilot-chat/logger"
)

func TestMain(m *testing.M) {
	// Keep test runs out of the real log file.
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}

// testLogger creates a discard logger for tests
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
