package plugin

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	manifestFilename = "manifest.yaml"

	// DefaultExecTimeout bounds one exec plugin invocation when neither the
	// manifest nor the caller's context sets a tighter limit.
	DefaultExecTimeout = 60 * time.Second
)

var actionNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.:-]*$`)

// CommandType is a coarse hint about whether an action mutates anything.
type CommandType string

const (
	CommandTypeRead  CommandType = "read"
	CommandTypeWrite CommandType = "write"
)

func (t CommandType) valid() bool {
	return t == CommandTypeRead || t == CommandTypeWrite
}

// Command declares one action an exec plugin answers.
type Command struct {
	Name        string      `yaml:"name"`
	Type        CommandType `yaml:"type"`
	Description string      `yaml:"description,omitempty"`
}

// Commands accepts either plain names or objects:
//
//	commands: [git_status, git_log]
//	commands: [{name: git_status, type: read, description: ...}]
type Commands []Command

func (c *Commands) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*c = nil
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("commands must be a sequence")
	}

	out := make([]Command, 0, len(n.Content))
	for _, item := range n.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, Command{Name: strings.TrimSpace(item.Value), Type: CommandTypeWrite})
		case yaml.MappingNode:
			var tmp Command
			if err := item.Decode(&tmp); err != nil {
				return fmt.Errorf("invalid command object: %w", err)
			}
			tmp.Name = strings.TrimSpace(tmp.Name)
			if tmp.Type == "" {
				tmp.Type = CommandTypeWrite
			}
			out = append(out, tmp)
		default:
			return fmt.Errorf("invalid command entry (must be string or object)")
		}
	}

	*c = out
	return nil
}

// ExecManifest is the manifest.yaml of an out-of-process plugin.
type ExecManifest struct {
	Name        string        `yaml:"name"`
	Version     string        `yaml:"version"`
	Protocol    int           `yaml:"protocol"`
	Entrypoint  string        `yaml:"entrypoint"`
	Description string        `yaml:"description,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Commands    Commands      `yaml:"commands"`
	ConfigKeys  *ConfigKeys   `yaml:"config_keys,omitempty"`
}

// ConfigKeys lists the config keys a plugin expects.
type ConfigKeys struct {
	Required []string `yaml:"required,omitempty"`
	Optional []string `yaml:"optional,omitempty"`
}

// ParseManifest decodes and validates manifest bytes. A manifest with no
// commands is valid; such a plugin is skipped at load time.
func ParseManifest(data []byte) (*ExecManifest, error) {
	var m ExecManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

func validateManifest(m *ExecManifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}
	if m.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	seen := make(map[string]struct{}, len(m.Commands))
	for _, cmd := range m.Commands {
		if cmd.Name == "" {
			return fmt.Errorf("command name is required")
		}
		if !actionNamePattern.MatchString(cmd.Name) {
			return fmt.Errorf("invalid command name %q", cmd.Name)
		}
		if !cmd.Type.valid() {
			return fmt.Errorf("invalid command type %q for %q (valid: read, write)", cmd.Type, cmd.Name)
		}
		if _, dup := seen[cmd.Name]; dup {
			return fmt.Errorf("command %q declared twice", cmd.Name)
		}
		seen[cmd.Name] = struct{}{}
	}
	return nil
}

// MissingConfig returns the required config keys absent from cfg.
func (m *ExecManifest) MissingConfig(cfg map[string]any) []string {
	if m.ConfigKeys == nil {
		return nil
	}
	var missing []string
	for _, key := range m.ConfigKeys.Required {
		if _, ok := cfg[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
