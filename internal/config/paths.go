package config

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

const defaultBaseDir = ".chatterbox"

// Paths locates the config file and the default SQLite database.
type Paths struct {
	Base     string
	Config   string
	Database string // used when session.path is empty
}

// ResolvePaths roots everything in ~/.chatterbox unless CHATTERBOX_HOME
// says otherwise; CHATTERBOX_CONFIG points at a config file elsewhere.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("CHATTERBOX_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	cfgPath := os.Getenv("CHATTERBOX_CONFIG")
	if cfgPath == "" {
		cfgPath = filepath.Join(base, "config.yaml")
	}

	return Paths{
		Base:     base,
		Config:   cfgPath,
		Database: filepath.Join(base, "chatterbox.db"),
	}, nil
}

// EnsureDirs creates the base directory with owner-only permissions.
func (p Paths) EnsureDirs() error {
	return os.MkdirAll(p.Base, 0o700)
}

// Sections are the top-level keys a config path may start with.
var Sections = []string{"llm", "conversation", "tools", "server", "session", "logging"}

var segmentPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ParseConfigPath splits a dotted path such as "server.auth.mode". The
// first segment must name a config section and every segment must be a
// plain identifier, so typos fail before anything is written.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
		if !segmentPattern.MatchString(p) {
			return nil, &ConfigError{Message: "invalid config key: " + p}
		}
	}
	if !isSection(parts[0]) {
		return nil, &ConfigError{
			Message: "unknown config section " + parts[0] + " (want one of " + strings.Join(Sections, ", ") + ")",
		}
	}
	return parts, nil
}

func isSection(name string) bool { return slices.Contains(Sections, name) }

// parent walks to the map holding the last segment of path. With create,
// missing or non-map intermediates are replaced by empty maps.
func parent(root map[string]any, path []string, create bool) (map[string]any, bool) {
	m := root
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	return m, true
}

// GetValueAtPath returns the value at path in a decoded YAML document.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	m, ok := parent(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := m[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath stores value at path, creating sections as needed.
func SetValueAtPath(root map[string]any, path []string, value any) {
	m, _ := parent(root, path, true)
	m[path[len(path)-1]] = value
}

// UnsetValueAtPath deletes the value at path and reports whether it existed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	m, ok := parent(root, path, false)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}
