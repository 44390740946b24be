// Package decompiler turns script bytecode into structured pseudocode.
//
// A script is decoded into root instructions, each embedded calc stream
// is rebuilt as expressions, and the root stream becomes a control-flow
// graph. Dominator trees drive the discovery of if, loop and switch
// constructs; whatever cannot be structured is expressed with gotos.
// A few rewrite passes then tidy the tree before it is rendered.
//
// Rendering records, for every node, where its text landed. Those
// positions become a ScriptDebugInfo that maps bytecode offsets to text
// and back.
//
// Usage:
//
//	d := decompiler.New(env)
//	res, err := d.Decompile(script)
//	if err != nil {
//		return err
//	}
//	fmt.Print(res.Text)
package decompiler
