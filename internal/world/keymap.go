package world

// KeyMap binds movement directions to key codes.
type KeyMap struct {
	Forward  uint32 `yaml:"forward"`
	Backward uint32 `yaml:"backward"`
	Left     uint32 `yaml:"left"`
	Right    uint32 `yaml:"right"`
	Interact uint32 `yaml:"interact"`
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Forward:  KeyW,
		Backward: KeyS,
		Left:     KeyA,
		Right:    KeyD,
		Interact: KeyE,
	}
}
