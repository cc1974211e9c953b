package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"reportpilot/models"
)

const (
	KindSQLServer  = "sqlserver"
	KindPostgres   = "postgres"
	KindSQLite     = "sqlite"
	KindCapability = "capability"
)

var validate = validator.New()

// FileConfig is the YAML document listing sources and redaction rules.
type FileConfig struct {
	Sources   []SourceConfig         `yaml:"sources" validate:"dive"`
	Redaction []models.RedactionRule `yaml:"redaction" validate:"dive"`
}

type SourceConfig struct {
	ID          string `yaml:"id" validate:"required,excludes=__"`
	Kind        string `yaml:"kind" validate:"required,oneof=sqlserver postgres sqlite capability"`
	Description string `yaml:"description"`
	// DSN is used as-is for postgres and sqlite when set.
	DSN       string          `yaml:"dsn"`
	Path      string          `yaml:"path"`
	URL       string          `yaml:"url" validate:"omitempty,url"`
	SQLServer SQLServerConfig `yaml:"sqlserver" validate:"-"`
	// Tables limits the schema offered to planning; empty means all.
	Tables       []string           `yaml:"tables"`
	Capabilities []CapabilityConfig `yaml:"capabilities" validate:"dive"`
}

type CapabilityConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
}

// ReadFile parses and validates a YAML config file.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*FileConfig, error) {
	var f FileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	seen := map[string]bool{}
	for _, s := range f.Sources {
		if seen[s.ID] {
			return nil, fmt.Errorf("invalid config file: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		switch s.Kind {
		case KindSQLServer:
			if err := validate.Struct(s.SQLServer); err != nil {
				return nil, fmt.Errorf("invalid config file: source %s: %w", s.ID, err)
			}
		case KindPostgres:
			if s.DSN == "" {
				return nil, fmt.Errorf("invalid config file: source %s needs a dsn", s.ID)
			}
		case KindSQLite:
			if s.DSN == "" && s.Path == "" {
				return nil, fmt.Errorf("invalid config file: source %s needs a path", s.ID)
			}
		case KindCapability:
			if s.URL == "" {
				return nil, fmt.Errorf("invalid config file: source %s needs a url", s.ID)
			}
		}
	}
	return &f, nil
}
