package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/pdreach/pkg/telemetry"
)

// SettingsFile is the default settings file name, looked up in the working
// directory.
const SettingsFile = "pdreach.toml"

// Settings are the CLI defaults read from pdreach.toml. Command-line flags
// override them.
type Settings struct {
	// Database is the SQLite run history path; empty disables history.
	Database string `toml:"database" json:"database,omitempty"`

	// MaxParallel bounds concurrent queries; 0 uses GOMAXPROCS.
	MaxParallel int `toml:"max_parallel" json:"max_parallel,omitempty" validate:"gte=0"`

	// QueryTimeout is a Go duration such as "30s"; empty means no limit.
	QueryTimeout string `toml:"query_timeout" json:"query_timeout,omitempty" validate:"omitempty,go_duration"`

	// PolicyDirs hold .rego files evaluated after every check.
	PolicyDirs []string `toml:"policy_dirs" json:"policy_dirs,omitempty" validate:"dive,required"`

	// MaxWitness is passed to policies as input.limits.max_witness.
	MaxWitness int `toml:"max_witness" json:"max_witness,omitempty" validate:"gte=0"`

	Telemetry *telemetry.Config `toml:"telemetry" json:"-"`
}

func init() {
	_ = validate.RegisterValidation("go_duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
}

// DefaultSettings returns the settings used when no file is present.
func DefaultSettings() *Settings {
	return &Settings{
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadSettings decodes path over the defaults. A missing file yields the
// defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if path == "" {
		path = SettingsFile
	}

	md, err := toml.DecodeFile(path, s)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown settings in %s: %v", path, undecoded)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// Validate checks field constraints and the embedded telemetry config.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	if s.Telemetry != nil {
		if err := s.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}

// Timeout returns the parsed query timeout, zero when unset.
func (s *Settings) Timeout() time.Duration {
	d, _ := time.ParseDuration(s.QueryTimeout)
	return d
}

// WriteSettings encodes s as TOML to path.
func WriteSettings(path string, s *Settings) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create settings file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return nil
}
