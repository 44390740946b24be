package manifest

import "strings"

// reservedNames lists keywords of the rendered pseudocode. A procedure or
// plugin with one of these names would make the output ambiguous.
var reservedNames = map[string]bool{
	"if":           true,
	"else":         true,
	"while":        true,
	"true":         true,
	"false":        true,
	"switch":       true,
	"case":         true,
	"default":      true,
	"break":        true,
	"continue":     true,
	"return":       true,
	"goto":         true,
	"int":          true,
	"call_dynamic": true,
}

// generatedPrefixes are the stems of names the decompiler generates
// followed by an underscore and a number.
var generatedPrefixes = []string{
	"scene",
	"system",
	"local",
	"builtin",
	"script",
	"label",
	"unknown_external",
}

// IsReservedName reports whether name is a keyword or could be mistaken
// for a generated variable, temporary, label or call name.
func IsReservedName(name string) bool {
	if reservedNames[name] {
		return true
	}
	if rest, ok := strings.CutPrefix(name, "temp"); ok && isDigits(rest) {
		return true
	}
	for _, p := range generatedPrefixes {
		if rest, ok := strings.CutPrefix(name, p+"_"); ok && isDigits(rest) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
