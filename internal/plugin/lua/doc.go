// Package lua provides the Lua runtime used by panel plugins.
//
// It wraps gopher-lua with:
//   - a sandboxed state that only opens the base, table, string and
//     math libraries and strips the file loading functions
//   - a per-call execution timeout enforced through the state's context
//   - a bridge converting Go values and compositor events to Lua tables
//
// # State
//
//	state, err := lua.NewState(
//	    lua.WithExecutionTimeout(time.Second),
//	    lua.WithOutput(func(msg string) { log.Info("%s", msg) }),
//	)
//	if err != nil {
//	    return err
//	}
//	defer state.Close()
//
//	mod, err := state.DoFile("init.lua")
//
// DoFile returns the chunk's first return value, which for a plugin is
// the table holding its handlers.
//
// # Bridge
//
//	bridge := lua.NewBridge(state.LuaState())
//	tbl := bridge.EventTable(ev)
//	_, err := state.Call(fn, tbl)
//
// A State is not safe for concurrent use by Lua code; the mutex only
// serialises calls made from Go.
package lua
