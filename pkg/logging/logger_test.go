package logging_test

import (
	"testing"

	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/stretchr/testify/require"
	"github.com/ubnt-intrepid/gist-fs/pkg/logging"
	"go.uber.org/zap/zapcore"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNewLogger(t *testing.T) {
	t.Run("Levels", func(t *testing.T) {
		for name, level := range map[string]zapcore.Level{
			"debug": zapcore.DebugLevel,
			"info":  zapcore.InfoLevel,
			"warn":  zapcore.WarnLevel,
			"error": zapcore.ErrorLevel,
		} {
			logger, err := logging.NewLogger(name)
			require.NoError(t, err)
			require.True(t, logger.Core().Enabled(level))
			if level > zapcore.DebugLevel {
				require.False(t, logger.Core().Enabled(level-1))
			}
		}
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		_, err := logging.NewLogger("verbose")
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Invalid log level \"verbose\""), err)
	})
}
