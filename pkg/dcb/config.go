package dcb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// reservedStoreNames mirrors platform-reserved directory names that must
// never be used as a store identifier.
var reservedStoreNames = map[string]bool{
	".": true, "..": true,
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
}

// Config is the recognized configuration surface (spec §6).
type Config struct {
	// RootPath is the directory under which all stores live. Must be a
	// non-empty absolute path containing no invalid path characters.
	RootPath string

	// StoreName is the single store identifier this engine instance is
	// bound to; must be a legal directory name and not a reserved one.
	StoreName string

	// CrossProcessLockTimeout bounds how long Append/AddTags/DeleteStore
	// wait to acquire the store's sentinel lock before failing.
	CrossProcessLockTimeout time.Duration

	// FlushEventsImmediately, when true, fsyncs event, index, and ledger
	// writes before the success path returns. LoadConfigFile sets it to
	// true when the file omits it; a Config built directly has false
	// unless the caller sets it.
	FlushEventsImmediately bool

	// WriteProtectEventFiles marks written event files read-only after
	// rename; DeleteStore clears the attribute before unlinking.
	WriteProtectEventFiles bool

	// WriteProtectProjectionFiles is the analogous flag for derived
	// projection artifacts, carried for parity with the teacher's
	// configuration surface even though this core ships no projection
	// materializer (see spec.md Non-goals).
	WriteProtectProjectionFiles bool

	// Logger receives structured log events from every component. A
	// zero-value Logger is replaced with zerolog.Nop() by NewEventStore —
	// silence, not a package-level global.
	Logger zerolog.Logger

	// Metrics optionally receives operation counters/histograms. A nil
	// Metrics disables instrumentation entirely.
	Metrics *Metrics

	// Registry resolves payload discriminators to concrete Go types on
	// read and back on write. A nil Registry gets a fresh, empty one of
	// its own in NewEventStore — never a package-level shared instance.
	Registry *PayloadRegistry
}

// configFile is the on-disk YAML shape understood by LoadConfigFile. Only
// the durable, serializable fields are present; Logger and Metrics are
// wired programmatically after load.
type configFile struct {
	RootPath                    string `yaml:"root_path"`
	StoreName                   string `yaml:"store_name"`
	CrossProcessLockTimeout     string `yaml:"cross_process_lock_timeout"`
	FlushEventsImmediately      *bool  `yaml:"flush_events_immediately"`
	WriteProtectEventFiles      bool   `yaml:"write_protect_event_files"`
	WriteProtectProjectionFiles bool   `yaml:"write_protect_projection_files"`
}

// LoadConfigFile reads a YAML configuration document from path and
// returns a Config with Logger defaulted to zerolog.Nop(). The caller is
// still expected to call Validate() — this loader performs no validation
// of its own, matching the teacher's separation between parsing and
// validating configuration.
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &IOError{
			EventStoreError: EventStoreError{Op: "LoadConfigFile", Err: err},
			Path:            path,
		}
	}

	var cf configFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return Config{}, &SerializationError{
			EventStoreError: EventStoreError{Op: "LoadConfigFile", Err: err},
		}
	}

	cfg := Config{
		RootPath:                    cf.RootPath,
		StoreName:                   cf.StoreName,
		FlushEventsImmediately:      true,
		WriteProtectEventFiles:      cf.WriteProtectEventFiles,
		WriteProtectProjectionFiles: cf.WriteProtectProjectionFiles,
		Logger:                      zerolog.Nop(),
	}
	if cf.FlushEventsImmediately != nil {
		cfg.FlushEventsImmediately = *cf.FlushEventsImmediately
	}
	if cf.CrossProcessLockTimeout != "" {
		d, err := time.ParseDuration(cf.CrossProcessLockTimeout)
		if err != nil {
			return Config{}, &ValidationError{
				EventStoreError: EventStoreError{Op: "LoadConfigFile", Err: err},
				Fields:          []string{"cross_process_lock_timeout"},
			}
		}
		cfg.CrossProcessLockTimeout = d
	}
	return cfg, nil
}

// Validate checks every recognized field and returns a single
// *ValidationError listing every offending field, per spec §6 ("Invalid
// configuration surfaces as a validation error at startup listing every
// offending field").
func (c Config) Validate() error {
	var bad []string

	if c.RootPath == "" {
		bad = append(bad, "root_path: must not be empty")
	} else {
		if !filepath.IsAbs(c.RootPath) {
			bad = append(bad, "root_path: must be absolute")
		}
		if strings.ContainsAny(c.RootPath, "\x00") {
			bad = append(bad, "root_path: contains invalid characters")
		}
	}

	if c.StoreName == "" {
		bad = append(bad, "store_name: must not be empty")
	} else {
		if c.StoreName != filepath.Base(c.StoreName) {
			bad = append(bad, "store_name: must be a single path segment")
		}
		if reservedStoreNames[strings.ToUpper(c.StoreName)] {
			bad = append(bad, "store_name: reserved name")
		}
		if strings.ContainsAny(c.StoreName, "/\\:*?\"<>|\x00") {
			bad = append(bad, "store_name: contains invalid characters")
		}
	}

	if c.CrossProcessLockTimeout <= 0 {
		bad = append(bad, "cross_process_lock_timeout: must be positive")
	}

	if len(bad) > 0 {
		return &ValidationError{
			EventStoreError: EventStoreError{
				Op:  "Config.Validate",
				Err: fmt.Errorf("%d invalid field(s)", len(bad)),
			},
			Fields: bad,
		}
	}
	return nil
}

// storePath returns the store's on-disk root directory.
func (c Config) storePath() string {
	return filepath.Join(c.RootPath, c.StoreName)
}

func (c Config) logger() zerolog.Logger {
	return c.Logger
}
