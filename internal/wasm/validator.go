package wasm

import "fmt"

// valueToken is a Validation Element's value form (spec.md §3 "Validation
// Element"): one of the four machine types, or Any, the polymorphic bottom
// used inside formally-unreachable code.
type valueToken = ValueType

// ValueAny is the polymorphic bottom type: after an unconditional branch,
// missing operands are materialized as Any and excess ones are dropped
// silently (spec.md §4.2).
const ValueAny ValueType = 0xff

// BlockKind distinguishes the four block forms the validator tracks.
type BlockKind byte

const (
	BlockKindFunc BlockKind = iota
	BlockKindBlock
	BlockKindLoop
	BlockKindIf
)

// blockFrame is a Validation Element's Block form: an intrusive,
// bump-allocated node linking to its enclosing block so `br`/`br_if`/
// `br_table` can scan outward to an ancestor in O(depth) (spec.md §9
// "Polymorphic validation stack"). ElseFence (spec.md §3) is modeled as a
// boolean on the `if` frame rather than a separate stack entry: Wasm 1.0
// permits at most one open if/else per frame, so a flag is sufficient and
// avoids a second allocation per if.
type blockFrame struct {
	kind   BlockKind
	params []ValueType
	// results is what pop_to_end checks for Block/If, what loop's own
	// re-entry (`br` to a loop) checks against instead (spec.md §4.2
	// validate_branch: "target block's result-types (or parameters, for
	// loop)").
	results []ValueType
	// valueStackBase is the height of the validator's value-token stack at
	// the moment this block was pushed (i.e. below its re-pushed params).
	valueStackBase int
	formallyUnreachable bool
	sawElse             bool
	prev                *blockFrame
}

// Validator implements the Wasm stack-typing validator of spec.md §4.2: a
// stack of value tokens interleaved with block headers, each block an
// intrusive node pointing at its enclosing block.
type Validator struct {
	module *Module
	// funcType is the signature of the function currently being validated;
	// the bottom-most block frame always has kind Func and this signature.
	funcType *FunctionType

	values []valueToken
	top    *blockFrame
	depth  int
}

// NewValidator starts validation of one function body, pushing the
// implicit BlockKindFunc frame (spec.md §3: "the bottom-most block is
// Func").
func NewValidator(m *Module, fnType *FunctionType) *Validator {
	v := &Validator{module: m, funcType: fnType}
	v.top = &blockFrame{kind: BlockKindFunc, results: fnType.Results}
	v.depth = 1
	return v
}

func (v *Validator) pushValue(t valueToken) { v.values = append(v.values, t) }

func (v *Validator) popValue() (valueToken, error) {
	if len(v.values) <= v.top.valueStackBase {
		if v.top.formallyUnreachable {
			return ValueAny, nil
		}
		return 0, ErrStackUnderflow
	}
	t := v.values[len(v.values)-1]
	v.values = v.values[:len(v.values)-1]
	return t, nil
}

// popExpect pops one value and checks it against want, treating Any (on
// either side) as a wildcard match per the polymorphic typing rule.
func (v *Validator) popExpect(want ValueType) error {
	got, err := v.popValue()
	if err != nil {
		return err
	}
	if got != ValueAny && want != ValueAny && got != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, ValueTypeName(want), ValueTypeName(got))
	}
	return nil
}

// PushBlock implements push_block(kind, sig): first pops the block's
// parameters from the current stack, then pushes the block header, then
// re-pushes the parameters into the new frame (spec.md §4.2).
func (v *Validator) PushBlock(kind BlockKind, params, results []ValueType) error {
	// Pop params off the enclosing frame in reverse order...
	for i := len(params) - 1; i >= 0; i-- {
		if err := v.popExpect(params[i]); err != nil {
			return err
		}
	}
	frame := &blockFrame{kind: kind, params: params, results: results, prev: v.top}
	v.top = frame
	v.depth++
	frame.valueStackBase = len(v.values)
	// ...then re-push them into the new frame, so block-local code sees its
	// parameters as ordinary stack values.
	for _, p := range params {
		v.pushValue(p)
	}
	return nil
}

// SetElse marks the matching If frame as having seen its else branch,
// playing the role of spec.md §3's ElseFence: code after `else` validates
// against the if's *params*, not its partially-consumed then-branch state,
// so the value stack is rewound to the frame base and params re-pushed.
func (v *Validator) SetElse() error {
	if v.top.kind != BlockKindIf {
		return fmt.Errorf("%w: else without matching if", ErrMalformed)
	}
	if v.top.sawElse {
		return fmt.Errorf("%w: duplicate else", ErrMalformed)
	}
	// pop_to_end-equivalent check on the then-branch before rewinding.
	if err := v.checkResults(v.top.results); err != nil {
		return err
	}
	v.top.sawElse = true
	v.top.formallyUnreachable = false
	v.values = v.values[:v.top.valueStackBase]
	for _, p := range v.top.params {
		v.pushValue(p)
	}
	return nil
}

func (v *Validator) checkResults(results []ValueType) error {
	// Results must be present and unique on the stack above valueStackBase
	// (spec.md §4.2 pop_to_end): pop each expected result in reverse, then
	// require the stack is back exactly at the frame base (no leftovers),
	// unless formally unreachable where excess is silently dropped.
	saved := v.values
	for i := len(results) - 1; i >= 0; i-- {
		if err := v.popExpect(results[i]); err != nil {
			v.values = saved
			return err
		}
	}
	if !v.top.formallyUnreachable && len(v.values) != v.top.valueStackBase {
		v.values = saved
		return fmt.Errorf("%w: extra values left on the stack at block end", ErrTypeMismatch)
	}
	return nil
}

// PopToEnd implements pop_to_end(): validates that the current frame's
// results are present (and unique) on the stack, then removes the block
// header (spec.md §4.2).
func (v *Validator) PopToEnd() ([]ValueType, error) {
	if v.top.kind == BlockKindIf && !v.top.sawElse {
		// An if with no else is only valid when params == results (the
		// then-branch is skippable), matching the Wasm 1.0 rule.
		if !sameTypes(v.top.params, v.top.results) {
			return nil, fmt.Errorf("%w: if without else must not change the stack signature", ErrTypeMismatch)
		}
	}
	if err := v.checkResults(v.top.results); err != nil {
		return nil, err
	}
	results := v.top.results
	v.top = v.top.prev
	v.depth--
	return results, nil
}

func sameTypes(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MarkUnreachable implements the effect of `unreachable` and of an
// unconditional `br`: the current frame becomes formally unreachable, so
// further value pops are satisfied with Any and excess pushes are
// tolerated until the matching `end`/`else` (spec.md §4.2).
func (v *Validator) MarkUnreachable() {
	v.values = v.values[:v.top.valueStackBase]
	v.top.formallyUnreachable = true
}

// BlockAt walks outward from the current frame to the block `depth` levels
// up (0 = innermost enclosing block), returning its branch target types:
// results for Block/If/Func, params for Loop (spec.md §4.2
// validate_branch).
func (v *Validator) BlockAt(depth uint32) (*blockFrame, []ValueType, error) {
	f := v.top
	for i := uint32(0); i < depth; i++ {
		f = f.prev
		if f == nil {
			return nil, nil, ErrUnknownBlock
		}
	}
	if f.kind == BlockKindLoop {
		return f, f.params, nil
	}
	return f, f.results, nil
}

// ValidateBranch implements validate_branch(opcode, depth) for br/br_if/
// br_table: compares the target block's branch types against the stack
// top, without consuming them for br_if (the values must still be present
// for the fallthrough path) and consuming+marking-unreachable for br
// (spec.md §4.2).
func (v *Validator) ValidateBranch(depth uint32, unconditional bool) error {
	_, want, err := v.BlockAt(depth)
	if err != nil {
		return err
	}
	saved := v.values
	for i := len(want) - 1; i >= 0; i-- {
		if err := v.popExpect(want[i]); err != nil {
			v.values = saved
			return err
		}
	}
	v.values = saved
	if unconditional {
		v.MarkUnreachable()
	} else {
		if err := v.popExpect(ValueTypeI32); err != nil {
			return err
		}
	}
	return nil
}

// ValidateBrTable checks every target (including the default) against the
// current stack, per spec.md §4.2; all targets must agree on arity with
// the default target to satisfy Wasm 1.0's single stack-shape rule.
func (v *Validator) ValidateBrTable(targets []uint32, defaultTarget uint32) error {
	_, defaultTypes, err := v.BlockAt(defaultTarget)
	if err != nil {
		return err
	}
	for _, t := range targets {
		_, tTypes, err := v.BlockAt(t)
		if err != nil {
			return err
		}
		if len(tTypes) != len(defaultTypes) {
			return fmt.Errorf("%w: br_table targets disagree on arity", ErrTypeMismatch)
		}
	}
	saved := v.values
	for i := len(defaultTypes) - 1; i >= 0; i-- {
		if err := v.popExpect(defaultTypes[i]); err != nil {
			v.values = saved
			return err
		}
	}
	v.values = saved
	if err := v.popExpect(ValueTypeI32); err != nil {
		return err
	}
	v.MarkUnreachable()
	return nil
}

// ValidateReturn implements validate_return(): checks the function frame's
// result types against the stack (spec.md §4.2), then marks unreachable.
func (v *Validator) ValidateReturn() error {
	saved := v.values
	for i := len(v.funcType.Results) - 1; i >= 0; i-- {
		if err := v.popExpect(v.funcType.Results[i]); err != nil {
			v.values = saved
			return err
		}
	}
	v.values = saved
	v.MarkUnreachable()
	return nil
}

// ValidateSelect implements validate_select(): pops the i32 condition,
// then requires both arms share one numeric type (spec.md §4.2), returning
// that type so the frontend/backend know which register class to pick
// from.
func (v *Validator) ValidateSelect() (ValueType, error) {
	if err := v.popExpect(ValueTypeI32); err != nil {
		return 0, err
	}
	b, err := v.popValue()
	if err != nil {
		return 0, err
	}
	a, err := v.popValue()
	if err != nil {
		return 0, err
	}
	var result ValueType
	switch {
	case a == ValueAny && b == ValueAny:
		result = ValueAny
	case a == ValueAny:
		result = b
	case b == ValueAny:
		result = a
	case a == b:
		result = a
	default:
		return 0, fmt.Errorf("%w: select arms have different types (%s vs %s)", ErrTypeMismatch, ValueTypeName(a), ValueTypeName(b))
	}
	v.pushValue(result)
	return result, nil
}

// arithmeticSignature is one row of the (arg0,arg1,result) tables
// validate_arithmetic consults (spec.md §4.2); arg1 is ValueAny (meaning
// "none") for unary ops.
type arithmeticSignature struct {
	arg0, arg1, result ValueType
}

const noArg ValueType = 0 // sentinel, never equal to a real ValueType constant's use site here

// ValidateArithmetic implements validate_arithmetic(opcode) using the
// per-opcode tables built by arithmeticTable, below.
func (v *Validator) ValidateArithmetic(op Opcode) error {
	sig, ok := arithmeticTable[op]
	if !ok {
		return fmt.Errorf("%w: opcode 0x%x has no arithmetic signature", ErrMalformed, op)
	}
	if sig.arg1 != noArg {
		if err := v.popExpect(sig.arg1); err != nil {
			return err
		}
	}
	if err := v.popExpect(sig.arg0); err != nil {
		return err
	}
	v.pushValue(sig.result)
	return nil
}

// Push/Pop/PeekType let the frontend driver move plain values (local.get,
// constants, call results) without going through the arithmetic table.
func (v *Validator) Push(t ValueType)        { v.pushValue(t) }
func (v *Validator) Pop() (ValueType, error) { return v.popValue() }

func (v *Validator) PopExpect(t ValueType) error { return v.popExpect(t) }

// Depth reports the current block nesting depth, 1 at the function's own
// frame, used by the implementation-limitation check on stacktrace ring
// sizing and by br validation's bounds check.
func (v *Validator) Depth() int { return v.depth }
