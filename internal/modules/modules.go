// Package modules holds the compiled-in handler modules offered to the loader
// through plugin.Static.
package modules

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// Builtins returns the module table in default load order.
func Builtins() []plugin.Builtin {
	return []plugin.Builtin{
		{Name: "system", New: NewSystem},
		{Name: "inventory", New: NewInventory},
		{Name: "realestate", New: NewRealEstate},
		{Name: "refactor", New: NewRefactor},
		{Name: "mesh", New: NewMesh},
	}
}

// decodeConfig maps a module's config block onto out. Unknown keys are
// rejected so typos surface at load time instead of being ignored.
func decodeConfig(module string, cfg map[string]any, out any) error {
	if len(cfg) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%s config: %w", module, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s config: %w", module, err)
	}
	return nil
}

// targetOr returns the trimmed target, or def when none was given.
func targetOr(target *string, def string) string {
	if target == nil {
		return def
	}
	if t := strings.TrimSpace(*target); t != "" {
		return t
	}
	return def
}

// intParam reads an optional integer param bounded to [lo, hi].
func intParam(params *protocol.Map, key string, def, lo, hi int64) (int64, error) {
	v, ok := params.Get(key)
	if !ok || v.IsNull() {
		return def, nil
	}
	n, ok := v.AsInt()
	if !ok {
		return 0, protocol.NewHandlerError(fmt.Sprintf("param '%s' must be an integer", key), nil)
	}
	if n < lo || n > hi {
		return 0, protocol.NewHandlerError(fmt.Sprintf("param '%s' must be between %d and %d", key, lo, hi), nil)
	}
	return n, nil
}

// boolParam reads an optional boolean param.
func boolParam(params *protocol.Map, key string) (bool, error) {
	v, ok := params.Get(key)
	if !ok || v.IsNull() {
		return false, nil
	}
	b, ok := v.AsBool()
	if !ok {
		return false, protocol.NewHandlerError(fmt.Sprintf("param '%s' must be a boolean", key), nil)
	}
	return b, nil
}
