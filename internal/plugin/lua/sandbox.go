package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// blockedGlobals load code from disk or strings outside the plugin's
// entry point.
var blockedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
}

// installSandbox strips the blocked globals and replaces print so its
// output goes to out instead of stdout.
func installSandbox(L *lua.LState, out func(msg string)) {
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		out(joinArgs(L))
		return 0
	}))
}

// joinArgs formats the arguments on L's stack the way print does.
func joinArgs(L *lua.LState) string {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	return strings.Join(parts, "\t")
}
