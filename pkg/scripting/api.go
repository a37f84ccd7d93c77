package scripting

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/ragmem/pkg/log"
)

// registerAPIFunctions registers the host functions available to Lua
// scripts under the global `ragmem` table.
func registerAPIFunctions(L *lua.LState) {
	api := L.NewTable()

	L.SetField(api, "log", L.NewFunction(apiLog))
	L.SetField(api, "now", L.NewFunction(apiNow))
	L.SetField(api, "format_time", L.NewFunction(apiFormatTime))
	L.SetField(api, "uuid", L.NewFunction(apiUUID))
	L.SetField(api, "json_encode", L.NewFunction(apiJSONEncode))
	L.SetField(api, "json_decode", L.NewFunction(apiJSONDecode))

	L.SetGlobal("ragmem", api)

	// dostring is registered for tests and interactive debugging.
	L.SetGlobal("dostring", L.NewFunction(apiDoString))
}

// apiLog is a function to log messages from Lua
func apiLog(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch level {
	case "debug":
		log.Debug("Lua script message", "message", message)
	case "info":
		log.Info("Lua script message", "message", message)
	case "warn", "warning":
		log.Warn("Lua script message", "message", message)
	case "error":
		log.Error("Lua script message", "message", message)
	default:
		log.Info("Lua script message", "message", message)
	}

	return 0
}

// apiNow returns the current time as a Unix timestamp
func apiNow(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().Unix()))
	return 1
}

// apiFormatTime formats a Unix timestamp as a string
func apiFormatTime(L *lua.LState) int {
	timestamp := L.CheckNumber(1)
	format := L.OptString(2, time.RFC3339)

	t := time.Unix(int64(timestamp), 0).UTC() // Use UTC to ensure consistent results
	L.Push(lua.LString(t.Format(format)))
	return 1
}

// apiUUID generates a UUID string
func apiUUID(L *lua.LState) int {
	L.Push(lua.LString(uuid.New().String()))
	return 1
}

// apiJSONEncode encodes a Lua value to a JSON string. On failure it
// returns nil plus the error message.
func apiJSONEncode(L *lua.LState) int {
	value := convertLuaToGo(L.CheckAny(1))

	raw, err := json.Marshal(value)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(raw))
	return 1
}

// apiJSONDecode decodes a JSON string to a Lua value. On failure it
// returns nil plus the error message.
func apiJSONDecode(L *lua.LState) int {
	jsonStr := L.CheckString(1)

	var value interface{}
	if err := json.Unmarshal([]byte(jsonStr), &value); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(convertGoToLua(L, value))
	return 1
}

// apiDoString executes a Lua code string, primarily for testing purposes
func apiDoString(L *lua.LState) int {
	code := L.CheckString(1)

	log.Debug("Executing Lua code via dostring", "code_length", len(code))

	err := L.DoString(code)
	if err != nil {
		log.Error("Error in dostring execution", "error", err)
		L.Push(lua.LBool(false)) // Return false to indicate failure
		L.Push(lua.LString(err.Error()))
		return 2
	}

	L.Push(lua.LBool(true)) // Return true to indicate success
	return 1
}
