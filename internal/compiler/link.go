package compiler

import "github.com/tetratelabs/wazero-aot/internal/compiler/arch"

// LinkIntraFunction patches every branch relocation CompileFunction
// recorded whose target is a Label internal to the same function, using
// the backend that emitted it (it alone knows where each of its Labels
// landed and how to encode the patched field). These patches are valid
// independent of where the function ends up living in the module's final
// concatenated code region, since both the branch site and its target
// translate together. Call relocations, whose target is another
// function's position in that region, are left unpatched and returned for
// PatchCallRelocations once every function has a final layout.
func LinkIntraFunction(cf *CompiledFunction, backend arch.Backend) (calls []arch.Relocation) {
	for _, r := range cf.Relocations {
		if r.IsCall {
			calls = append(calls, r)
			continue
		}
		offset, ok := backend.LabelOffset(r.Target)
		if !ok {
			// A Label never passed to LoopStart, End or ResolveLabel has
			// no offset; its branch site is left as emitted.
			continue
		}
		backend.PatchRelocation(cf.Code, r, offset)
	}
	return calls
}

// PatchCallRelocations patches relos (collected from LinkIntraFunction's
// return value for one function, whose body starts at funcBodyBase within
// the module's fully concatenated code buffer) against funcOffsets, the
// final start offset of every function (imported functions excluded; a
// dynamic import's call relocation is left untouched here and resolved
// separately at load time against the linked Native Symbol's address).
func PatchCallRelocations(code []byte, relos []arch.Relocation, funcBodyBase int, backend arch.Backend, funcOffsets map[uint32]int) {
	for _, r := range relos {
		target, ok := funcOffsets[r.CallIndex]
		if !ok {
			continue
		}
		backend.PatchRelocation(code, arch.Relocation{CodeOffset: funcBodyBase + r.CodeOffset, ImmBits: r.ImmBits}, target)
	}
}
