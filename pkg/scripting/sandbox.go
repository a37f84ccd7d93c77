package scripting

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/ragmem/pkg/log"
)

// setupSandbox restricts the Lua state to safe libraries. Scripts advise
// on memory decisions; they never touch the filesystem, the process
// environment, or arbitrary code loading.
func setupSandbox(L *lua.LState) {
	// Open the standard libraries, then strip everything that reaches
	// outside the interpreter. string, table, and math stay available.
	L.OpenLibs()

	for _, name := range []string{"io", "os", "package", "require", "dofile", "loadfile", "load"} {
		L.SetGlobal(name, lua.LNil)
	}

	// Route print through the host logger instead of stdout.
	L.SetGlobal("print", L.NewFunction(safePrint))
}

// safePrint redirects Lua's print to the structured logger.
func safePrint(L *lua.LState) int {
	top := L.GetTop()
	args := make([]interface{}, top)
	for i := 1; i <= top; i++ {
		args[i-1] = convertLuaToGo(L.Get(i))
	}
	log.Debug("Lua print", "args", args)
	return 0
}
