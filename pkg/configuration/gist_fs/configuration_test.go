package configuration_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	configuration "github.com/ubnt-intrepid/gist-fs/pkg/configuration/gist_fs"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func clearEnvironment(t *testing.T) {
	for _, name := range []string{"GITHUB_TOKEN", "GISTFS_LOG_LEVEL", "GISTFS_API_URL"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfigurationFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "gist_fs.jsonnet")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func parseFlags(t *testing.T, args ...string) *configuration.Flags {
	flagSet := pflag.NewFlagSet("gist_fs", pflag.ContinueOnError)
	flags := configuration.RegisterFlags(flagSet)
	require.NoError(t, flagSet.Parse(args))
	return flags
}

func TestGetGistFSConfigurationDefaults(t *testing.T) {
	clearEnvironment(t)

	c, err := parseFlags(t, "--gist-id", "aa5a315d61ae9438b18d").GetGistFSConfiguration("/mnt/gist")
	require.NoError(t, err)
	require.Equal(t, &configuration.GistFSConfiguration{
		GistID:            "aa5a315d61ae9438b18d",
		MountPath:         "/mnt/gist",
		APIURL:            "https://api.github.com",
		LogLevel:          "info",
		CachePeriod:       configuration.Duration(5 * time.Minute),
		FetchTimeout:      configuration.Duration(30 * time.Second),
		EntryValidity:     configuration.Duration(time.Second),
		AttributeValidity: configuration.Duration(time.Second),
	}, c)
}

func TestGetGistFSConfigurationPrecedence(t *testing.T) {
	clearEnvironment(t)
	path := writeConfigurationFile(t, `{
		gistId: 'from-file',
		mountPath: '/mnt/file',
		apiUrl: 'https://github.example.com/api/v3',
		logLevel: 'warn',
		cachePeriod: '1m',
		fetchTimeout: '10s',
		entryValidity: '%ds' % (1 + 1),
		allowOther: true,
		diagnosticsHttpListenAddress: ':9980',
	}`)

	t.Run("FileOnly", func(t *testing.T) {
		c, err := parseFlags(t, "--config", path).GetGistFSConfiguration("")
		require.NoError(t, err)
		require.Equal(t, "from-file", c.GistID)
		require.Equal(t, "/mnt/file", c.MountPath)
		require.Equal(t, "https://github.example.com/api/v3", c.APIURL)
		require.Equal(t, "warn", c.LogLevel)
		require.Equal(t, configuration.Duration(time.Minute), c.CachePeriod)
		require.Equal(t, configuration.Duration(10*time.Second), c.FetchTimeout)
		require.Equal(t, configuration.Duration(2*time.Second), c.EntryValidity)
		require.Equal(t, configuration.Duration(time.Second), c.AttributeValidity)
		require.True(t, c.AllowOther)
		require.Equal(t, ":9980", c.DiagnosticsHTTPListenAddress)
	})

	t.Run("EnvironmentOverridesFile", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "ghp_secret")
		t.Setenv("GISTFS_LOG_LEVEL", "debug")
		t.Setenv("GISTFS_API_URL", "http://localhost:8080")

		c, err := parseFlags(t, "--config", path).GetGistFSConfiguration("")
		require.NoError(t, err)
		require.Equal(t, "ghp_secret", c.Token)
		require.Equal(t, "debug", c.LogLevel)
		require.Equal(t, "http://localhost:8080", c.APIURL)
	})

	t.Run("FlagsOverrideEnvironment", func(t *testing.T) {
		t.Setenv("GISTFS_LOG_LEVEL", "debug")

		c, err := parseFlags(
			t,
			"--config", path,
			"--gist-id", "from-flag",
			"--log-level", "error",
			"--cache-period", "30s",
		).GetGistFSConfiguration("/mnt/flag")
		require.NoError(t, err)
		require.Equal(t, "from-flag", c.GistID)
		require.Equal(t, "/mnt/flag", c.MountPath)
		require.Equal(t, "error", c.LogLevel)
		require.Equal(t, configuration.Duration(30*time.Second), c.CachePeriod)
	})

	t.Run("ExternalVariables", func(t *testing.T) {
		t.Setenv("GIST_ID", "from-ext-var")
		path := writeConfigurationFile(t, `{
			gistId: std.extVar('GIST_ID'),
			mountPath: '/mnt/file',
		}`)

		c, err := parseFlags(t, "--config", path).GetGistFSConfiguration("")
		require.NoError(t, err)
		require.Equal(t, "from-ext-var", c.GistID)
	})
}

func TestGetGistFSConfigurationFailures(t *testing.T) {
	clearEnvironment(t)

	t.Run("MissingGistID", func(t *testing.T) {
		_, err := parseFlags(t).GetGistFSConfiguration("/mnt/gist")
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "No gist ID provided"), err)
	})

	t.Run("MissingMountPath", func(t *testing.T) {
		_, err := parseFlags(t, "--gist-id", "aa5a315d61ae9438b18d").GetGistFSConfiguration("")
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "No mount path provided"), err)
	})

	t.Run("NegativeCachePeriod", func(t *testing.T) {
		_, err := parseFlags(t, "--gist-id", "aa5a315d61ae9438b18d", "--cache-period", "-1s").GetGistFSConfiguration("/mnt/gist")
		testutil.RequireEqualStatus(t, status.Error(codes.InvalidArgument, "Cache period cannot be negative"), err)
	})

	t.Run("InvalidJsonnet", func(t *testing.T) {
		path := writeConfigurationFile(t, `{ gistId: `)
		_, err := parseFlags(t, "--config", path).GetGistFSConfiguration("/mnt/gist")
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("UnknownField", func(t *testing.T) {
		path := writeConfigurationFile(t, `{ gistId: 'aa5a315d61ae9438b18d', cacheTimeout: '1m' }`)
		_, err := parseFlags(t, "--config", path).GetGistFSConfiguration("/mnt/gist")
		testutil.RequireEqualStatus(
			t,
			status.Errorf(codes.InvalidArgument, "Failed to read configuration from %#v: Unknown configuration field \"cacheTimeout\"", path),
			err)
	})

	t.Run("MiscapitalizedField", func(t *testing.T) {
		// encoding/json would match this field against GistID.
		path := writeConfigurationFile(t, `{ gistID: 'aa5a315d61ae9438b18d' }`)
		_, err := parseFlags(t, "--config", path).GetGistFSConfiguration("/mnt/gist")
		testutil.RequireEqualStatus(
			t,
			status.Errorf(codes.InvalidArgument, "Failed to read configuration from %#v: Unknown configuration field \"gistID\"", path),
			err)
	})

	t.Run("NotAnObject", func(t *testing.T) {
		path := writeConfigurationFile(t, `['aa5a315d61ae9438b18d']`)
		_, err := parseFlags(t, "--config", path).GetGistFSConfiguration("/mnt/gist")
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("InvalidDuration", func(t *testing.T) {
		path := writeConfigurationFile(t, `{ cachePeriod: 'five minutes' }`)
		_, err := parseFlags(t, "--config", path).GetGistFSConfiguration("/mnt/gist")
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("NonexistentFile", func(t *testing.T) {
		_, err := parseFlags(t, "--config", filepath.Join(t.TempDir(), "nonexistent.jsonnet")).GetGistFSConfiguration("/mnt/gist")
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}
