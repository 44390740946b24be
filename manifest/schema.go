package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// profileSchema constrains a decoded profile. Field names follow the
// unscript.toml keys.
const profileSchema = `
#Ident: =~"^[A-Za-z_][A-Za-z0-9_]*$"

#Profile: {
	profile: name?: string
	variables: {
		scene:  int & >=0
		system: int & >=0
	}
	procedures: {
		"max-builtin": int & >=0
		names?: [=~"^[0-9]+$"]: #Ident
	}
	plugins?: [...{
		name:       #Ident
		procedures: [...#Ident]
	}]
	output: {
		indent?: =~"^[ \t]+$"
		cache?:  string & !=""
	}
}
`

// Validate checks a profile against the schema, then rejects names that
// would collide with generated identifiers.
func Validate(p *Profile) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(profileSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("profile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Profile"))

	v := def.Unify(ctx.Encode(p))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}

	for k, name := range p.Procedures.Names {
		if IsReservedName(name) {
			return fmt.Errorf("procedures.names.%s: %q is reserved", k, name)
		}
	}
	for i, pl := range p.Plugins {
		if IsReservedName(pl.Name) {
			return fmt.Errorf("plugins[%d].name: %q is reserved", i, pl.Name)
		}
	}
	return nil
}
