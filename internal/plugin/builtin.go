package plugin

import (
	"fmt"
	"strings"
)

// BuiltinOrigin is the origin reported for compiled-in modules.
const BuiltinOrigin = "builtin"

// Builtin describes a compiled-in module. New receives the module's config
// block, which may be nil.
type Builtin struct {
	Name string
	New  func(cfg map[string]any) (Module, error)
}

// Static offers compiled-in modules as candidates, in table order.
type Static struct {
	builtins []Builtin
	enabled  []string
	config   map[string]map[string]any
}

// NewStatic creates a source over the module table. When enabled is non-empty
// only the named modules are offered, in the order given; a name missing from
// the table becomes a failed candidate.
func NewStatic(builtins []Builtin, enabled []string, config map[string]map[string]any) *Static {
	return &Static{builtins: builtins, enabled: enabled, config: config}
}

func (s *Static) Name() string { return BuiltinOrigin }

func (s *Static) Candidates() ([]Candidate, error) {
	byName := make(map[string]Builtin, len(s.builtins))
	for _, b := range s.builtins {
		byName[b.Name] = b
	}

	order := s.builtins
	if len(s.enabled) > 0 {
		order = make([]Builtin, 0, len(s.enabled))
		for _, name := range s.enabled {
			name = strings.TrimSpace(name)
			if b, ok := byName[name]; ok {
				order = append(order, b)
				continue
			}
			order = append(order, Builtin{Name: name})
		}
	}

	out := make([]Candidate, 0, len(order))
	for _, b := range order {
		out = append(out, s.candidate(b))
	}
	return out, nil
}

func (s *Static) candidate(b Builtin) Candidate {
	cfg := s.config[b.Name]
	return Candidate{
		Name:   b.Name,
		Origin: BuiltinOrigin,
		Open: func() (Module, error) {
			if b.New == nil {
				return nil, fmt.Errorf("unknown builtin module %q", b.Name)
			}
			return b.New(cfg)
		},
	}
}
