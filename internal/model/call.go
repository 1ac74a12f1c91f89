package model

import "strconv"

// ValueKind tags the variants a call argument value can take.
type ValueKind int

const (
	ValueUint ValueKind = iota
	ValueString
	ValueCall
	ValueCalls
)

// CallValue is a tagged call argument value. Exactly the field selected by
// Kind is meaningful.
type CallValue struct {
	Kind  ValueKind
	Uint  uint64
	Str   string
	Call  *Call
	Calls []Call
}

// UintValue wraps an unsigned integer argument value.
func UintValue(v uint64) CallValue {
	return CallValue{Kind: ValueUint, Uint: v}
}

// StringValue wraps a string argument value.
func StringValue(s string) CallValue {
	return CallValue{Kind: ValueString, Str: s}
}

// InnerCallValue wraps a single nested call.
func InnerCallValue(c Call) CallValue {
	return CallValue{Kind: ValueCall, Call: &c}
}

// InnerCallsValue wraps a sequence of nested calls.
func InnerCallsValue(calls []Call) CallValue {
	return CallValue{Kind: ValueCalls, Calls: calls}
}

// AsUint converts the value to an unsigned integer when possible. String
// values are parsed with automatic base detection so hex-encoded numbers
// coming from the decoder are accepted.
func (v CallValue) AsUint() (uint64, bool) {
	switch v.Kind {
	case ValueUint:
		return v.Uint, true
	case ValueString:
		n, err := strconv.ParseUint(v.Str, 0, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// CallArg is a named call argument. Order within a Call is the order the
// chain decoder observed and never changes after construction.
type CallArg struct {
	Name  string
	Value CallValue
}

// Call is one decoded runtime call. Wrapper calls embed their inner calls
// in an argument value; calls form a tree, never a cycle.
type Call struct {
	Module   string
	Function string
	Args     []CallArg
}

// Arg returns the first argument matching any of the given names, scanning
// in argument order.
func (c *Call) Arg(names ...string) (CallValue, bool) {
	for _, arg := range c.Args {
		for _, name := range names {
			if arg.Name == name {
				return arg.Value, true
			}
		}
	}
	return CallValue{}, false
}

// UintArg returns the first argument matching any of the given names that
// converts to an unsigned integer.
func (c *Call) UintArg(names ...string) (uint64, bool) {
	for _, arg := range c.Args {
		for _, name := range names {
			if arg.Name != name {
				continue
			}
			if n, ok := arg.Value.AsUint(); ok {
				return n, true
			}
		}
	}
	return 0, false
}
