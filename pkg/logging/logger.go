package logging

import (
	"github.com/buildbarn/bb-storage/pkg/util"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ParseLevel converts the textual name of a log level ("debug",
// "info", "warn" or "error") to a zapcore.Level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, status.Errorf(codes.InvalidArgument, "Invalid log level %#v", level)
	}
}

// NewLogger creates a structured logger that writes JSON records to
// standard error, discarding records below the provided level.
func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parsedLevel)
	config.OutputPaths = []string{"stderr"}
	logger, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to build logger")
	}
	return logger, nil
}
