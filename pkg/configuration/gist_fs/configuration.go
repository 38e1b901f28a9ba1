package configuration

import (
	"bytes"
	"encoding/json"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/go-jsonnet"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/pflag"
	"github.com/ubnt-intrepid/gist-fs/pkg/gist"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Duration is a time.Duration that is encoded as a string in the
// configuration file (e.g., "5m" or "1.5s").
type Duration time.Duration

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// GistFSConfiguration contains all settings of a gist file system
// mount. Values are obtained from a Jsonnet file, environment
// variables and command line flags, in increasing order of precedence.
type GistFSConfiguration struct {
	GistID    string `json:"gistId"`
	MountPath string `json:"mountPath"`

	// Base URL of the GitHub REST API.
	APIURL string `json:"apiUrl" env:"GISTFS_API_URL"`
	// Bearer token that is sent along with every request. Requests
	// are made anonymously if empty.
	Token    string `json:"token" env:"GITHUB_TOKEN"`
	LogLevel string `json:"logLevel" env:"GISTFS_LOG_LEVEL"`

	// Period during which a fetched snapshot is considered fresh.
	CachePeriod  Duration `json:"cachePeriod"`
	FetchTimeout Duration `json:"fetchTimeout"`

	EntryValidity     Duration `json:"entryValidity"`
	AttributeValidity Duration `json:"attributeValidity"`

	AllowOther       bool `json:"allowOther"`
	DirectMount      bool `json:"directMount"`
	DropCapabilities bool `json:"dropCapabilities"`

	// Address on which /metrics and /-/healthy are served. The
	// diagnostics server is disabled if empty.
	DiagnosticsHTTPListenAddress string `json:"diagnosticsHttpListenAddress"`
}

// Flags that may be used to override values in the configuration.
type Flags struct {
	flagSet *pflag.FlagSet

	ConfigurationPath string
	GistID            string
	LogLevel          string
	CachePeriod       time.Duration
}

// RegisterFlags adds the command line flags that are respected by
// Flags.GetGistFSConfiguration() to a flag set.
func RegisterFlags(flagSet *pflag.FlagSet) *Flags {
	f := &Flags{flagSet: flagSet}
	flagSet.StringVar(&f.ConfigurationPath, "config", "", "Path of a Jsonnet configuration file")
	flagSet.StringVar(&f.GistID, "gist-id", "", "Identifier of the gist to mount")
	flagSet.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn or error)")
	flagSet.DurationVar(&f.CachePeriod, "cache-period", 0, "Period during which fetched gist contents are considered fresh")
	return f
}

// GetGistFSConfiguration reads the configuration file (if any),
// overlays environment variables and command line flags, and fills in
// default values. The mount path, if non-empty, overrides the one in
// the configuration file.
func (f *Flags) GetGistFSConfiguration(mountPath string) (*GistFSConfiguration, error) {
	var configuration GistFSConfiguration
	if f.ConfigurationPath != "" {
		if err := unmarshalConfigurationFromFile(f.ConfigurationPath, &configuration); err != nil {
			return nil, util.StatusWrapf(err, "Failed to read configuration from %#v", f.ConfigurationPath)
		}
	}
	if err := cleanenv.ReadEnv(&configuration); err != nil {
		return nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to read configuration from environment")
	}

	if f.flagSet.Changed("gist-id") {
		configuration.GistID = f.GistID
	}
	if f.flagSet.Changed("log-level") {
		configuration.LogLevel = f.LogLevel
	}
	if f.flagSet.Changed("cache-period") {
		configuration.CachePeriod = Duration(f.CachePeriod)
	}
	if mountPath != "" {
		configuration.MountPath = mountPath
	}

	setDefaultGistFSValues(&configuration)
	if err := validateGistFSConfiguration(&configuration); err != nil {
		return nil, err
	}
	return &configuration, nil
}

// unmarshalConfigurationFromFile evaluates a Jsonnet file and decodes
// the resulting JSON. Environment variables are exposed as external
// variables, so that they can be obtained through std.extVar().
func unmarshalConfigurationFromFile(path string, configuration *GistFSConfiguration) error {
	vm := jsonnet.MakeVM()
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vm.ExtVar(k, v)
		}
	}
	evaluated, err := vm.EvaluateFile(path)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "Failed to evaluate configuration: %s", err)
	}
	if err := checkConfigurationFields(evaluated); err != nil {
		return err
	}
	decoder := json.NewDecoder(bytes.NewBufferString(evaluated))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(configuration); err != nil {
		return status.Errorf(codes.InvalidArgument, "Failed to unmarshal configuration: %s", err)
	}
	return nil
}

// configurationFields contains the names of all fields that may be
// set in the configuration file.
var configurationFields = func() map[string]struct{} {
	fields := map[string]struct{}{}
	t := reflect.TypeOf(GistFSConfiguration{})
	for i := 0; i < t.NumField(); i++ {
		if name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ","); name != "" && name != "-" {
			fields[name] = struct{}{}
		}
	}
	return fields
}()

// checkConfigurationFields rejects fields that are not part of the
// configuration. Unlike encoding/json, field names are matched
// case-sensitively, so that misspelled settings are not silently
// accepted.
func checkConfigurationFields(evaluated string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(evaluated), &fields); err != nil {
		return status.Errorf(codes.InvalidArgument, "Failed to unmarshal configuration: %s", err)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := configurationFields[name]; !ok {
			return status.Errorf(codes.InvalidArgument, "Unknown configuration field %#v", name)
		}
	}
	return nil
}

func setDefaultGistFSValues(configuration *GistFSConfiguration) {
	if configuration.APIURL == "" {
		configuration.APIURL = gist.DefaultAPIURL
	}
	if configuration.LogLevel == "" {
		configuration.LogLevel = "info"
	}
	if configuration.CachePeriod == 0 {
		configuration.CachePeriod = Duration(5 * time.Minute)
	}
	if configuration.FetchTimeout == 0 {
		configuration.FetchTimeout = Duration(30 * time.Second)
	}
	if configuration.EntryValidity == 0 {
		configuration.EntryValidity = Duration(time.Second)
	}
	if configuration.AttributeValidity == 0 {
		configuration.AttributeValidity = Duration(time.Second)
	}
}

func validateGistFSConfiguration(configuration *GistFSConfiguration) error {
	if configuration.GistID == "" {
		return status.Error(codes.InvalidArgument, "No gist ID provided")
	}
	if configuration.MountPath == "" {
		return status.Error(codes.InvalidArgument, "No mount path provided")
	}
	if configuration.CachePeriod < 0 {
		return status.Error(codes.InvalidArgument, "Cache period cannot be negative")
	}
	if configuration.FetchTimeout < 0 {
		return status.Error(codes.InvalidArgument, "Fetch timeout cannot be negative")
	}
	return nil
}
