package wazeroaot

import "github.com/tetratelabs/wazero-aot/api"

// Imports collects the Native Symbols an embedder offers to
// Runtime.InitFromCompiled, keyed by (module, name) the same way the
// binary's dynamic-import section and STATIC call sites are keyed (spec.md
// §6.1 "same module, same symbol"). WithNativeSymbol adds to the set in
// place and returns the same *Imports for chaining, a fluent shape like the
// teacher's HostModuleBuilder pattern (builder.go) collapsed to the
// one operation this runtime actually needs at the host boundary: resolving
// link slots, not building a dynamically-dispatched module graph.
type Imports struct {
	symbols map[importKey]api.NativeSymbol
}

type importKey struct{ module, name string }

// NewImports returns an empty Imports set.
func NewImports() *Imports {
	return &Imports{symbols: map[importKey]api.NativeSymbol{}}
}

// WithNativeSymbol registers sym, keyed by its own Module and Name, and
// returns the receiver for chaining. A later call with the same
// (module, name) replaces the earlier registration.
func (i *Imports) WithNativeSymbol(sym api.NativeSymbol) *Imports {
	i.symbols[importKey{sym.Module, sym.Name}] = sym
	return i
}

// Lookup returns the registered symbol for (module, name), matching by
// module and name only; the caller (Runtime.InitFromCompiled) is
// responsible for the signature comparison spec.md §6.1 also requires.
func (i *Imports) Lookup(module, name string) (api.NativeSymbol, bool) {
	sym, ok := i.symbols[importKey{module, name}]
	return sym, ok
}

// All returns every registered symbol, used by Runtime.Compile to resolve
// STATIC Native Symbols at compile time.
func (i *Imports) All() []api.NativeSymbol {
	out := make([]api.NativeSymbol, 0, len(i.symbols))
	for _, s := range i.symbols {
		out = append(out, s)
	}
	return out
}
