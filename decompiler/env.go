package decompiler

import "fmt"

// Plugin describes one external procedure provider. Procedure ids above
// Environment.MaxBuiltin index the plugins' procedures flattened in order.
type Plugin struct {
	Name       string
	Procedures []string
}

// Environment holds the constants the resource container supplies for a
// game: variable bands and the procedure tables.
type Environment struct {
	SceneVars  int32 // indices below this are scene variables
	SystemVars int32 // width of the system band that follows
	MaxBuiltin int32 // highest internal procedure id
	Builtins   map[int32]string
	Plugins    []Plugin
}

// ResolveVar maps a raw variable index to its band and the index within it.
func (e *Environment) ResolveVar(index int32) (VarScope, int32) {
	switch {
	case index < e.SceneVars:
		return ScopeScene, index
	case index < e.SceneVars+e.SystemVars:
		return ScopeSystem, index - e.SceneVars
	default:
		return ScopeLocal, index - e.SceneVars - e.SystemVars
	}
}

// ResolveCall maps a procedure id to its call kind and display name.
func (e *Environment) ResolveCall(id int32) (CallKind, string) {
	if id <= e.MaxBuiltin {
		if name, ok := e.Builtins[id]; ok {
			return CallInternal, name
		}
		return CallInternal, fmt.Sprintf("builtin_%d", id)
	}
	k := int(id - e.MaxBuiltin - 1)
	rest := k
	for _, p := range e.Plugins {
		if rest < len(p.Procedures) {
			return CallExternal, p.Name + "." + p.Procedures[rest]
		}
		rest -= len(p.Procedures)
	}
	return CallUnknownExternal, fmt.Sprintf("unknown_external_%d", k)
}

// VarName renders a variable reference.
func VarName(scope VarScope, index int32, addr bool) string {
	name := fmt.Sprintf("%s_%d", scope, index)
	if addr {
		return "&" + name
	}
	return name
}
