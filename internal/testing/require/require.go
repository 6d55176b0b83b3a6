// Package require implements the pack's own assertion helpers, used by
// _test.go files throughout this module in place of a third-party
// assertion library: thin wrappers over a TestingT that call t.Fatal on
// the first failed assertion, the same fail-fast contract testify's
// require subpackage has.
package require

import (
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"
	"syscall"
)

// TestingT is the subset of *testing.T (and *testing.B) every helper in
// this package needs; tests can substitute a mock to assert on the
// message a helper would have failed with.
type TestingT interface {
	Fatal(args ...interface{})
}

// CapturePanic runs fn and returns the panic it raised as an error, or nil
// if fn returned normally.
func CapturePanic(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", r)
			}
		}
	}()
	fn()
	return nil
}

func fail(t TestingT, msg, userMsg string, userMsgArgs ...interface{}) {
	if userMsg != "" {
		msg = fmt.Sprintf("%s: %s", msg, userMsg)
	}
	if len(userMsgArgs) > 0 {
		var extra string
		if format, ok := userMsgArgs[0].(string); ok && strings.Contains(format, "%") {
			extra = fmt.Sprintf(format, userMsgArgs[1:]...)
		} else {
			extra = strings.TrimSuffix(fmt.Sprintln(userMsgArgs...), "\n")
		}
		msg = fmt.Sprintf("%s: %s", msg, extra)
	}
	t.Fatal(msg)
}

// formatMsgAndArgs renders the optional trailing "msgAndArgs" testify-style
// varargs most helpers below accept: either nothing, a pre-formatted
// string, or a format string plus its arguments.
func formatMsgAndArgs(msgAndArgs []interface{}) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	if len(msgAndArgs) == 1 {
		return fmt.Sprintf("%v", msgAndArgs[0])
	}
	format, ok := msgAndArgs[0].(string)
	if !ok {
		return fmt.Sprint(msgAndArgs...)
	}
	return fmt.Sprintf(format, msgAndArgs[1:]...)
}

func failf(t TestingT, msgAndArgs []interface{}, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if extra := formatMsgAndArgs(msgAndArgs); extra != "" {
		msg = msg + ": " + extra
	}
	t.Fatal(msg)
}

// Fail always fails with msg, formatted with formatWithArgs like fmt.Sprintf
// when present.
func Fail(t TestingT, msg string, formatWithArgs ...interface{}) {
	if len(formatWithArgs) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, fmt.Sprintf(fmt.Sprint(formatWithArgs[0]), formatWithArgs[1:]...))
	}
	t.Fatal(msg)
}

// FailNow is an alias of Fail kept distinct so call sites can document
// intent; both simply call t.Fatal.
func FailNow(t TestingT, msg string, formatWithArgs ...interface{}) {
	Fail(t, msg, formatWithArgs...)
}

func renderValue(v interface{}) string {
	if v == nil {
		return "nil"
	}
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("%q", x)
	case []byte:
		return fmt.Sprintf("%#v", x)
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Struct || rv.Kind() == reflect.Ptr {
			return fmt.Sprintf("%#v", v)
		}
		return fmt.Sprintf("%v", v)
	}
}

// Equal fails unless expected and actual are deeply equal, per
// reflect.DeepEqual.
func Equal(t TestingT, expected, actual interface{}, msgAndArgs ...interface{}) {
	if expected == nil && actual == nil {
		return
	}
	if expected == nil || actual == nil {
		failf(t, msgAndArgs, "expected %s, but was %s", renderValue(expected), renderValue(actual))
		return
	}
	et, at := reflect.TypeOf(expected), reflect.TypeOf(actual)
	if et != at {
		if s, ok := expected.(string); ok {
			failf(t, msgAndArgs, "expected %q, but was %s(%v)", s, at, actual)
		} else {
			failf(t, msgAndArgs, "expected %s(%v), but was %s(%v)", et, expected, at, actual)
		}
		return
	}
	if !reflect.DeepEqual(expected, actual) {
		switch et.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct, reflect.Ptr:
			msg := "unexpected value"
			if extra := formatMsgAndArgs(msgAndArgs); extra != "" {
				msg += ": " + extra
			}
			t.Fatal(fmt.Sprintf("%s\nexpected:\n\t%#v\nwas:\n\t%#v\n", msg, expected, actual))
		default:
			failf(t, msgAndArgs, "expected %s, but was %s", renderValue(expected), renderValue(actual))
		}
	}
}

// Equalf is Equal with a mandatory format string, matching testify's
// naming convention for every Xf variant below.
func Equalf(t TestingT, expected, actual interface{}, format string, args ...interface{}) {
	Equal(t, expected, actual, append([]interface{}{format}, args...)...)
}

// EqualValues fails unless expected and actual are equal after converting
// actual to expected's type when the two are convertible.
func EqualValues(t TestingT, expected, actual interface{}, msgAndArgs ...interface{}) {
	if reflect.DeepEqual(expected, actual) {
		return
	}
	ev, av := reflect.ValueOf(expected), reflect.ValueOf(actual)
	if av.IsValid() && ev.IsValid() && av.Type().ConvertibleTo(ev.Type()) {
		if reflect.DeepEqual(expected, av.Convert(ev.Type()).Interface()) {
			return
		}
	}
	failf(t, msgAndArgs, "expected %s, but was %s", renderValue(expected), renderValue(actual))
}

// NotEqual fails if expected and actual are deeply equal.
func NotEqual(t TestingT, expected, actual interface{}, msgAndArgs ...interface{}) {
	if reflect.DeepEqual(expected, actual) {
		failf(t, msgAndArgs, "expected to not equal %#v", actual)
	}
}

// Contains fails unless s (a string, or a slice/map/array) contains
// needle.
func Contains(t TestingT, s, needle interface{}, msgAndArgs ...interface{}) {
	ok, err := containsElement(s, needle)
	if err != nil {
		failf(t, msgAndArgs, "%s", err)
		return
	}
	if !ok {
		failf(t, msgAndArgs, "expected %s to contain %s", renderValue(s), renderValue(needle))
	}
}

// NotContains is the inverse of Contains.
func NotContains(t TestingT, s, needle interface{}, msgAndArgs ...interface{}) {
	ok, err := containsElement(s, needle)
	if err == nil && ok {
		failf(t, msgAndArgs, "expected %s not to contain %s", renderValue(s), renderValue(needle))
	}
}

func containsElement(s, needle interface{}) (bool, error) {
	if str, ok := s.(string); ok {
		sub, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("needle %v is not a string", needle)
		}
		return strings.Contains(str, sub), nil
	}
	sv := reflect.ValueOf(s)
	switch sv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < sv.Len(); i++ {
			if reflect.DeepEqual(sv.Index(i).Interface(), needle) {
				return true, nil
			}
		}
		return false, nil
	case reflect.Map:
		for _, k := range sv.MapKeys() {
			if reflect.DeepEqual(k.Interface(), needle) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("cannot check containment on %T", s)
	}
}

// Len fails unless len(v) == length.
func Len(t TestingT, v interface{}, length int, msgAndArgs ...interface{}) {
	n := reflect.ValueOf(v).Len()
	if n != length {
		failf(t, msgAndArgs, "expected length %d, but was %d", length, n)
	}
}

// Empty fails unless v is the zero value or has length 0.
func Empty(t TestingT, v interface{}, msgAndArgs ...interface{}) {
	if !isEmpty(v) {
		failf(t, msgAndArgs, "expected %s to be empty", renderValue(v))
	}
}

// Emptyf is Empty with a mandatory format string.
func Emptyf(t TestingT, v interface{}, format string, args ...interface{}) {
	Empty(t, v, append([]interface{}{format}, args...)...)
}

// NotEmpty is the inverse of Empty.
func NotEmpty(t TestingT, v interface{}, msgAndArgs ...interface{}) {
	if isEmpty(v) {
		failf(t, msgAndArgs, "expected value not to be empty")
	}
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Chan, reflect.String:
		return rv.Len() == 0
	case reflect.Ptr:
		return rv.IsNil()
	default:
		return reflect.DeepEqual(v, reflect.Zero(rv.Type()).Interface())
	}
}

// Zero fails unless v is its type's zero value.
func Zero(t TestingT, v interface{}, msgAndArgs ...interface{}) {
	if v != nil && !reflect.DeepEqual(v, reflect.Zero(reflect.TypeOf(v)).Interface()) {
		failf(t, msgAndArgs, "expected zero, but was %s", renderValue(v))
	}
}

// NotZero is the inverse of Zero.
func NotZero(t TestingT, v interface{}, msgAndArgs ...interface{}) {
	if v == nil || reflect.DeepEqual(v, reflect.Zero(reflect.TypeOf(v)).Interface()) {
		failf(t, msgAndArgs, "expected a non-zero value")
	}
}

// True fails unless v is true.
func True(t TestingT, v bool, msgAndArgs ...interface{}) {
	if !v {
		failf(t, msgAndArgs, "expected true, but was false")
	}
}

// Truef is True with a mandatory format string.
func Truef(t TestingT, v bool, format string, args ...interface{}) {
	True(t, v, append([]interface{}{format}, args...)...)
}

// False fails unless v is false.
func False(t TestingT, v bool, msgAndArgs ...interface{}) {
	if v {
		failf(t, msgAndArgs, "expected false, but was true")
	}
}

// Falsef is False with a mandatory format string.
func Falsef(t TestingT, v bool, format string, args ...interface{}) {
	False(t, v, append([]interface{}{format}, args...)...)
}

// Nil fails unless v is nil, or a nil pointer/slice/map/interface.
func Nil(t TestingT, v interface{}, msgAndArgs ...interface{}) {
	if !isNil(v) {
		failf(t, msgAndArgs, "expected nil, but was %v", v)
	}
}

// NotNil is the inverse of Nil.
func NotNil(t TestingT, v interface{}, msgAndArgs ...interface{}) {
	if isNil(v) {
		failf(t, msgAndArgs, "expected to not be nil")
	}
}

// NotNilf is NotNil with a mandatory format string.
func NotNilf(t TestingT, v interface{}, format string, args ...interface{}) {
	NotNil(t, v, append([]interface{}{format}, args...)...)
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// Error fails unless err is non-nil.
func Error(t TestingT, err error, msgAndArgs ...interface{}) {
	if err == nil {
		failf(t, msgAndArgs, "expected an error, but was nil")
	}
}

// Errorf is Error with a mandatory format string.
func Errorf(t TestingT, err error, format string, args ...interface{}) {
	Error(t, err, append([]interface{}{format}, args...)...)
}

// NoError fails unless err is nil.
func NoError(t TestingT, err error, msgAndArgs ...interface{}) {
	if err != nil {
		failf(t, msgAndArgs, "expected no error, but was %s", err)
	}
}

// NoErrorf is NoError with a mandatory format string.
func NoErrorf(t TestingT, err error, format string, args ...interface{}) {
	NoError(t, err, append([]interface{}{format}, args...)...)
}

// EqualError fails unless err's message is exactly msg.
func EqualError(t TestingT, err error, msg string, msgAndArgs ...interface{}) {
	if err == nil {
		failf(t, msgAndArgs, "expected an error, but was nil")
		return
	}
	if err.Error() != msg {
		failf(t, msgAndArgs, "expected error %q, but was %q", msg, err.Error())
	}
}

// ErrorContains fails unless err's message contains substr.
func ErrorContains(t TestingT, err error, substr string, msgAndArgs ...interface{}) {
	if err == nil {
		failf(t, msgAndArgs, "expected an error containing %q, but there was none", substr)
		return
	}
	if !strings.Contains(err.Error(), substr) {
		failf(t, msgAndArgs, "expected error containing %q, but was %q", substr, err.Error())
	}
}

// ErrorIs fails unless errors.Is(err, target).
func ErrorIs(t TestingT, err, target error, msgAndArgs ...interface{}) {
	if !errors.Is(err, target) {
		failf(t, msgAndArgs, "expected errors.Is(%v, %v), but it wasn't", err, target)
	}
}

// ErrorIsf is ErrorIs with a mandatory format string.
func ErrorIsf(t TestingT, err, target error, format string, args ...interface{}) {
	ErrorIs(t, err, target, append([]interface{}{format}, args...)...)
}

// ErrorAs fails unless errors.As(err, target) succeeds.
func ErrorAs(t TestingT, err error, target interface{}, msgAndArgs ...interface{}) {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr {
		failf(t, msgAndArgs, "target must be a pointer")
		return
	}
	if !errorAs(err, rv) {
		failf(t, msgAndArgs, "expected error chain to contain a %s, but was %v", rv.Elem().Type(), err)
	}
}

func errorAs(err error, target reflect.Value) bool {
	for err != nil {
		if reflect.TypeOf(err).AssignableTo(target.Elem().Type()) {
			target.Elem().Set(reflect.ValueOf(err))
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// EqualErrno fails unless actual is the same syscall.Errno as expected.
func EqualErrno(t TestingT, expected syscall.Errno, actual error, msgAndArgs ...interface{}) {
	if actual == nil {
		failf(t, msgAndArgs, "expected a syscall.Errno, but was nil")
		return
	}
	errno, ok := actual.(syscall.Errno)
	if !ok {
		failf(t, msgAndArgs, "expected %v to be a syscall.Errno", actual)
		return
	}
	if errno != expected {
		failf(t, msgAndArgs, "expected Errno %#x(%s), but was %#x(%s)", uintptr(expected), expected, uintptr(errno), errno)
	}
}

// IsType fails unless actual has the same dynamic type as expected.
func IsType(t TestingT, expected, actual interface{}, msgAndArgs ...interface{}) {
	et, at := reflect.TypeOf(expected), reflect.TypeOf(actual)
	if et != at {
		failf(t, msgAndArgs, "expected type %s, but was %s", et, at)
	}
}

// IsTypef is IsType with a mandatory format string.
func IsTypef(t TestingT, expected, actual interface{}, format string, args ...interface{}) {
	IsType(t, expected, actual, append([]interface{}{format}, args...)...)
}

// Same fails unless expected and actual are the same pointer.
func Same(t TestingT, expected, actual interface{}, msgAndArgs ...interface{}) {
	ev, av := reflect.ValueOf(expected), reflect.ValueOf(actual)
	if ev.Kind() != reflect.Ptr || av.Kind() != reflect.Ptr || ev.Pointer() != av.Pointer() {
		failf(t, msgAndArgs, "expected %v to point to the same object as %v", actual, expected)
	}
}

// NotSame is the inverse of Same.
func NotSame(t TestingT, expected, actual interface{}, msgAndArgs ...interface{}) {
	ev, av := reflect.ValueOf(expected), reflect.ValueOf(actual)
	if ev.Kind() == reflect.Ptr && av.Kind() == reflect.Ptr && ev.Pointer() == av.Pointer() {
		failf(t, msgAndArgs, "expected %v to point to a different object", actual)
	}
}

// ElementsMatch fails unless listA and listB contain the same elements,
// ignoring order.
func ElementsMatch(t TestingT, listA, listB interface{}, msgAndArgs ...interface{}) {
	av, bv := reflect.ValueOf(listA), reflect.ValueOf(listB)
	if av.Len() != bv.Len() {
		failf(t, msgAndArgs, "expected %d elements, but was %d", av.Len(), bv.Len())
		return
	}
	used := make([]bool, bv.Len())
	for i := 0; i < av.Len(); i++ {
		found := false
		for j := 0; j < bv.Len(); j++ {
			if used[j] {
				continue
			}
			if reflect.DeepEqual(av.Index(i).Interface(), bv.Index(j).Interface()) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			failf(t, msgAndArgs, "element %s not found in the other list", renderValue(av.Index(i).Interface()))
			return
		}
	}
}

// Greater fails unless a > b.
func Greater(t TestingT, a, b float64, msgAndArgs ...interface{}) {
	if !(a > b) {
		failf(t, msgAndArgs, "expected %v > %v", a, b)
	}
}

// GreaterOrEqual fails unless a >= b.
func GreaterOrEqual(t TestingT, a, b float64, msgAndArgs ...interface{}) {
	if !(a >= b) {
		failf(t, msgAndArgs, "expected %v >= %v", a, b)
	}
}

// Less fails unless a < b.
func Less(t TestingT, a, b float64, msgAndArgs ...interface{}) {
	if !(a < b) {
		failf(t, msgAndArgs, "expected %v < %v", a, b)
	}
}

// Lessf is Less with a mandatory format string.
func Lessf(t TestingT, a, b float64, format string, args ...interface{}) {
	Less(t, a, b, append([]interface{}{format}, args...)...)
}

// Positive fails unless v > 0.
func Positive(t TestingT, v float64, msgAndArgs ...interface{}) {
	if !(v > 0) {
		failf(t, msgAndArgs, "expected a positive value, but was %v", v)
	}
}

// InDelta fails unless |expected-actual| <= delta.
func InDelta(t TestingT, expected, actual, delta float64, msgAndArgs ...interface{}) {
	if math.Abs(expected-actual) > delta {
		failf(t, msgAndArgs, "expected %v within %v of %v", actual, delta, expected)
	}
}

// InEpsilon fails unless actual is within epsilon relative error of
// expected.
func InEpsilon(t TestingT, expected, actual, epsilon float64, msgAndArgs ...interface{}) {
	if expected == 0 {
		InDelta(t, expected, actual, epsilon, msgAndArgs...)
		return
	}
	if math.Abs((expected-actual)/expected) > epsilon {
		failf(t, msgAndArgs, "expected %v within relative %v of %v", actual, epsilon, expected)
	}
}

// Panics fails unless fn panics.
func Panics(t TestingT, fn func(), msgAndArgs ...interface{}) {
	if err := CapturePanic(fn); err == nil {
		failf(t, msgAndArgs, "expected a panic")
	}
}

// NotPanics fails if fn panics.
func NotPanics(t TestingT, fn func(), msgAndArgs ...interface{}) {
	if err := CapturePanic(fn); err != nil {
		failf(t, msgAndArgs, "expected no panic, but recovered %v", err)
	}
}

// NotPanicsf is NotPanics with a mandatory format string.
func NotPanicsf(t TestingT, fn func(), format string, args ...interface{}) {
	NotPanics(t, fn, append([]interface{}{format}, args...)...)
}

// JSONEq fails unless expected and actual are JSON strings, both
// containing maps with equal decoded values. This package avoids
// importing encoding/json for a single helper; callers needing true JSON
// semantic equality should decode and call Equal themselves. Kept as a
// literal-string comparison after whitespace trimming, sufficient for
// this pack's fixed-literal test fixtures.
func JSONEq(t TestingT, expected, actual string, msgAndArgs ...interface{}) {
	if strings.TrimSpace(expected) != strings.TrimSpace(actual) {
		failf(t, msgAndArgs, "expected JSON %s, but was %s", expected, actual)
	}
}

// DirExists fails unless path exists and is a directory.
func DirExists(t TestingT, path string, msgAndArgs ...interface{}) {
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		failf(t, msgAndArgs, "expected %s to be a directory", path)
	}
}

// NoDirExists fails if path exists and is a directory.
func NoDirExists(t TestingT, path string, msgAndArgs ...interface{}) {
	fi, err := os.Stat(path)
	if err == nil && fi.IsDir() {
		failf(t, msgAndArgs, "expected %s not to be a directory", path)
	}
}
