package sources

import (
	"fmt"
	"log"

	"reportpilot/config"
)

// Open builds the source described by cfg.
func Open(cfg config.SourceConfig) (Source, error) {
	switch cfg.Kind {
	case config.KindSQLServer, config.KindPostgres, config.KindSQLite:
		return NewSQLSource(cfg)
	case config.KindCapability:
		return NewCapabilitySource(cfg), nil
	}
	return nil, fmt.Errorf("source %s: unknown kind %q", cfg.ID, cfg.Kind)
}

// FromConfig registers every configured source. A source that fails to open
// is logged and skipped.
func FromConfig(cfgs []config.SourceConfig) *Registry {
	reg := NewRegistry()
	for _, c := range cfgs {
		src, err := Open(c)
		if err != nil {
			log.Printf("[SOURCES] skipping %s: %v", c.ID, err)
			continue
		}
		if err := reg.Register(src); err != nil {
			log.Printf("[SOURCES] skipping %s: %v", c.ID, err)
			src.Close()
			continue
		}
		log.Printf("[SOURCES] registered %s (%s)", c.ID, c.Kind)
	}
	return reg
}
