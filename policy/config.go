package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/schema"
)

// Config is an optional overlay on the built-in policy table: write mask
// overrides per entity, operation and role, plus a version string carried
// into the Set built from it. The rule structure itself is not
// configurable; only the column masks are, so a config change can tighten
// or widen field-level write access without touching code.
type Config struct {
	Version string       `yaml:"version"`
	Masks   []MaskConfig `yaml:"masks"`
}

// MaskConfig overrides one write mask.
type MaskConfig struct {
	Table     string   `yaml:"table"`
	Operation string   `yaml:"operation"`
	Role      string   `yaml:"role,omitempty"` // empty: applies regardless of role
	Columns   []string `yaml:"columns"`
}

// ParseConfig parses and validates a YAML config document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("policy: parsing config: %w", err)
	}
	for i, m := range cfg.Masks {
		cols := schema.Columns(m.Table)
		if cols == nil {
			return nil, fmt.Errorf("policy: config mask %d: unknown table %q", i, m.Table)
		}
		if _, err := parseOp(m.Operation); err != nil {
			return nil, fmt.Errorf("policy: config mask %d: %w", i, err)
		}
		if m.Role != "" && !classguard.Role(m.Role).Valid() {
			return nil, fmt.Errorf("policy: config mask %d: unknown role %q", i, m.Role)
		}
		for _, c := range m.Columns {
			if !contains(cols, c) {
				return nil, fmt.Errorf("policy: config mask %d: table %q has no column %q", i, m.Table, c)
			}
		}
	}
	return &cfg, nil
}

// LoadConfig reads and parses a config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: reading config: %w", err)
	}
	return ParseConfig(data)
}

// MaskFor returns the configured mask for (table, op, role), if any. An
// entry without a role matches any role; a role-specific entry wins over
// a roleless one.
func (c *Config) MaskFor(table string, op classguard.Op, role classguard.Role) ([]string, bool) {
	var fallback []string
	found := false
	for _, m := range c.Masks {
		if m.Table != table {
			continue
		}
		mop, err := parseOp(m.Operation)
		if err != nil || !op.Is(mop) {
			continue
		}
		switch {
		case m.Role == string(role):
			return m.Columns, true
		case m.Role == "":
			fallback, found = m.Columns, true
		}
	}
	return fallback, found
}

// Watch watches a config file and calls swap with each successfully parsed
// new version until the context is done. A config that fails to parse or
// validate is skipped, keeping the previous version active. Watch blocks;
// run it on its own goroutine.
func Watch(ctx context.Context, path string, swap func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy: starting config watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory rather than the file: editors and config
	// rollouts typically replace the file, which drops a file-level watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("policy: watching config dir: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("policy: resolving config path: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			evAbs, err := filepath.Abs(ev.Name)
			if err != nil || evAbs != abs {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				continue
			}
			swap(cfg)
		case _, ok := <-w.Errors:
			if !ok {
				return nil
			}
		}
	}
}

func parseOp(s string) (classguard.Op, error) {
	switch s {
	case "read":
		return classguard.OpRead, nil
	case "insert":
		return classguard.OpInsert, nil
	case "update":
		return classguard.OpUpdate, nil
	case "delete":
		return classguard.OpDelete, nil
	}
	return 0, fmt.Errorf("policy: unknown operation %q", s)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
