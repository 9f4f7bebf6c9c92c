package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for tunable movement formulas.
// Single-goroutine access only (simulation loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	// core 先載入，movement 可覆寫其預設函式
	for _, sub := range []string{"core", "movement"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source, mainly for tests and tooling.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// MoveContext holds pre-packed data for one movement impulse.
type MoveContext struct {
	PeerID   string
	Base     float32 // configured effort
	Speed    float32 // player speed setting
	Grounded bool
	Keys     int // number of held movement keys
	Tick     uint64
}

// MoveEffort calls the Lua calc_move_effort function. Base is returned
// when the function is missing, fails or returns a non-number.
func (e *Engine) MoveEffort(ctx MoveContext) float32 {
	fn := e.vm.GetGlobal("calc_move_effort")
	if fn == lua.LNil {
		return ctx.Base
	}

	t := e.vm.NewTable()
	t.RawSetString("peer_id", lua.LString(ctx.PeerID))
	t.RawSetString("base", lua.LNumber(ctx.Base))
	t.RawSetString("speed", lua.LNumber(ctx.Speed))
	t.RawSetString("grounded", lua.LBool(ctx.Grounded))
	t.RawSetString("keys", lua.LNumber(ctx.Keys))
	t.RawSetString("tick", lua.LNumber(ctx.Tick))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua calc_move_effort error", zap.Error(err))
		return ctx.Base
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	n, ok := result.(lua.LNumber)
	if !ok {
		e.log.Error("lua calc_move_effort returned non-number")
		return ctx.Base
	}
	return float32(n)
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
