package config

import (
	"os"
	"path/filepath"
)

const configEnvVar = "SWITCHBOARD_CONFIG"

// Discover returns the config file to use. An explicit path always wins;
// otherwise $SWITCHBOARD_CONFIG, ~/.config/switchboard/config.yaml,
// /etc/switchboard/config.yaml and ./config.yaml are tried in order. An empty
// result means no config file exists and defaults apply.
func Discover(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, candidate := range candidates() {
		if fileExists(candidate) {
			return candidate
		}
	}
	return ""
}

// SearchPaths lists the locations Discover checks, for diagnostics.
func SearchPaths() []string {
	return candidates()
}

func candidates() []string {
	var out []string
	if p := os.Getenv(configEnvVar); p != "" {
		out = append(out, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "switchboard", "config.yaml"))
	}
	out = append(out, "/etc/switchboard/config.yaml", "config.yaml")
	return out
}

// LoadDiscovered loads the discovered config file, or defaults when none
// exists.
func LoadDiscovered(explicit string) (*Config, error) {
	path := Discover(explicit)
	if path == "" {
		return LoadDefaults()
	}
	return Load(path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
