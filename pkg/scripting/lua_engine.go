package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/session"
)

// LuaEngine implements the Engine interface on a single gopher-lua state.
// LStates are not safe for concurrent use, so every load and call is
// serialized behind a mutex.
type LuaEngine struct {
	mu      sync.Mutex
	state   *lua.LState
	config  Config
	scripts map[string]bool
	closed  bool
}

// NewLuaEngine creates a Lua engine with the host API registered and,
// when configured, the sandbox applied.
func NewLuaEngine(config Config) (*LuaEngine, error) {
	L := lua.NewState()

	if config.EnableSandboxing {
		setupSandbox(L)
	} else {
		L.OpenLibs()
	}
	registerAPIFunctions(L)

	return &LuaEngine{
		state:   L,
		config:  config,
		scripts: make(map[string]bool),
	}, nil
}

// LoadScript loads a Lua script with the given name and content.
func (e *LuaEngine) LoadScript(name string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.Wrap(errors.ErrLuaExecution, "engine is closed")
	}

	if err := e.state.DoString(string(content)); err != nil {
		return errors.Wrap(errors.ErrLuaExecution, "loading script %q: %v", name, err)
	}
	e.scripts[name] = true
	log.Debug("Loaded Lua script", "name", name, "bytes", len(content))
	return nil
}

// LoadScriptFile loads a Lua script from a file path.
func (e *LuaEngine) LoadScriptFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading script file %q", path)
	}
	return e.LoadScript(filepath.Base(path), content)
}

// LoadScriptDir loads all *.lua files in a directory, in lexical order.
// Other files are ignored.
func (e *LuaEngine) LoadScriptDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "reading script directory %q", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		if err := e.LoadScriptFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteFunction calls a previously loaded Lua function. Execution is
// bounded by the shorter of the caller's context and the configured
// script timeout; the context (deadline, session) is exposed to the
// script as a global `ctx` table.
func (e *LuaEngine) ExecuteFunction(ctx context.Context, funcName string, args ...interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Wrap(errors.ErrLuaExecution, "engine is closed")
	}

	fn := e.state.GetGlobal(funcName)
	if fn.Type() != lua.LTFunction {
		return nil, errors.Wrap(ErrFunctionNotFound, "function %q", funcName)
	}

	execCtx := ctx
	if e.config.ScriptTimeoutMs > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(e.config.ScriptTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	e.state.SetContext(execCtx)
	defer e.state.RemoveContext()
	e.state.SetGlobal("ctx", e.contextTable(execCtx))

	largs := make([]lua.LValue, len(args))
	for i, arg := range args {
		largs[i] = convertGoToLua(e.state, arg)
	}

	if err := e.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, largs...); err != nil {
		return nil, errors.Wrap(errors.ErrLuaExecution, "calling %q: %v", funcName, err)
	}

	ret := e.state.Get(-1)
	e.state.Pop(1)
	return convertLuaToGo(ret), nil
}

// Close releases the Lua state. The engine is unusable afterwards.
func (e *LuaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.state.Close()
	return nil
}

// contextTable exposes the Go context to scripts: the deadline as a Unix
// timestamp and the session ID when one is present.
func (e *LuaEngine) contextTable(ctx context.Context) *lua.LTable {
	tbl := e.state.NewTable()
	if deadline, ok := ctx.Deadline(); ok {
		e.state.SetField(tbl, "deadline", lua.LNumber(deadline.Unix()))
	}
	if id, ok := session.GetSessionID(ctx); ok {
		e.state.SetField(tbl, "session_id", lua.LString(string(id)))
	}
	return tbl
}

// convertLuaToGo maps Lua values onto plain Go values: numbers become
// float64, array-like tables become []interface{}, everything else
// becomes map[string]interface{}.
func convertLuaToGo(value lua.LValue) interface{} {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 {
			arr := make([]interface{}, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, convertLuaToGo(v.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]interface{})
		v.ForEach(func(key, val lua.LValue) {
			m[lua.LVAsString(key)] = convertLuaToGo(val)
		})
		return m
	default:
		return v.String()
	}
}

// convertGoToLua maps Go values into the Lua state.
func convertGoToLua(L *lua.LState, value interface{}) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []byte:
		return lua.LString(v)
	case time.Time:
		return lua.LNumber(v.Unix())
	case []string:
		tbl := L.NewTable()
		for _, item := range v {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case []interface{}:
		tbl := L.NewTable()
		for _, item := range v {
			tbl.Append(convertGoToLua(L, item))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.NewTable()
		for key, item := range v {
			L.SetField(tbl, key, convertGoToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}
