package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxsim/server/internal/world"
)

// LoadKeyBindings reads movement key codes. Keys missing from the file
// keep their defaults (W/S/A/D, E).
func LoadKeyBindings(path string) (world.KeyMap, error) {
	km := world.DefaultKeyMap()
	raw, err := os.ReadFile(path)
	if err != nil {
		return km, fmt.Errorf("read key bindings: %w", err)
	}
	if err := yaml.Unmarshal(raw, &km); err != nil {
		return km, fmt.Errorf("parse key bindings: %w", err)
	}
	if err := validateKeyMap(km); err != nil {
		return km, fmt.Errorf("key bindings %s: %w", path, err)
	}
	return km, nil
}

func validateKeyMap(km world.KeyMap) error {
	seen := make(map[uint32]string, 5)
	for _, b := range []struct {
		name string
		key  uint32
	}{
		{"forward", km.Forward},
		{"backward", km.Backward},
		{"left", km.Left},
		{"right", km.Right},
		{"interact", km.Interact},
	} {
		if other, dup := seen[b.key]; dup {
			return fmt.Errorf("%s and %s share key %d", other, b.name, b.key)
		}
		seen[b.key] = b.name
	}
	return nil
}
