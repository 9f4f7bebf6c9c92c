package data

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/voxsim/server/internal/world"
)

// Scenario is a scripted input stream for the demo host. Setup events play
// once at their tick; Loop events repeat every Period ticks, their tick
// being the offset inside the period.
type Scenario struct {
	Lead   uint64        `yaml:"lead"` // ticks ahead of the simulation to send
	Period uint64        `yaml:"period"`
	Setup  []world.Event `yaml:"setup"`
	Loop   []world.Event `yaml:"loop"`
}

func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(s.Loop) > 0 && s.Period == 0 {
		return nil, fmt.Errorf("scenario %s: loop events need a period", path)
	}
	for _, ev := range s.Loop {
		if ev.Tick >= s.Period {
			return nil, fmt.Errorf("scenario %s: loop tick %d outside period %d", path, ev.Tick, s.Period)
		}
	}
	byTick := func(evs []world.Event) func(i, j int) bool {
		return func(i, j int) bool { return evs[i].Tick < evs[j].Tick }
	}
	sort.SliceStable(s.Setup, byTick(s.Setup))
	sort.SliceStable(s.Loop, byTick(s.Loop))
	return &s, nil
}

// Due merges every scenario entry scheduled for tick into one event.
func (s *Scenario) Due(tick uint64) (world.Event, bool) {
	out := world.Event{Tick: tick}
	merge := func(ev world.Event) {
		ev = ev.Clone()
		out.Spawns = append(out.Spawns, ev.Spawns...)
		out.Actions = append(out.Actions, ev.Actions...)
		out.Despawns = append(out.Despawns, ev.Despawns...)
	}
	for _, ev := range s.Setup {
		if ev.Tick == tick {
			merge(ev)
		}
	}
	if s.Period > 0 {
		off := tick % s.Period
		for _, ev := range s.Loop {
			if ev.Tick == off {
				merge(ev)
			}
		}
	}
	return out, !out.Empty()
}

// Len returns the number of scripted entries.
func (s *Scenario) Len() int {
	return len(s.Setup) + len(s.Loop)
}
