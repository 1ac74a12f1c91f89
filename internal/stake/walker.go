package stake

import (
	"strings"

	"stakewatch/internal/model"
)

// StakingModule is the runtime module whose calls move stake.
const StakingModule = "SubtensorModule"

// maxWrapDepth bounds wrapper recursion so degenerate nesting cannot
// recurse without limit.
const maxWrapDepth = 16

// wrapperFunctions are calls whose purpose is to execute one or more inner
// calls, keyed by function with the module they belong to. A same-named
// function on any other pallet is not a wrapper. approve_as_multi carries
// only a call hash, so it matches here but never yields a decodable inner
// call.
var wrapperFunctions = map[string]string{
	"batch":            "Utility",
	"batch_all":        "Utility",
	"force_batch":      "Utility",
	"as_derivative":    "Utility",
	"proxy":            "Proxy",
	"as_multi":         "Multisig",
	"approve_as_multi": "Multisig",
}

// ResolvedCall is the innermost staking call found by Resolve, together
// with the wrapper function chain that led to it in outer-to-inner order.
type ResolvedCall struct {
	Call     *model.Call
	Wrappers []string
}

// Label renders the wrapper chain and innermost function for display,
// e.g. "batch > add_stake".
func (r ResolvedCall) Label() string {
	if r.Call == nil {
		return ""
	}
	if len(r.Wrappers) == 0 {
		return r.Call.Function
	}
	parts := make([]string, 0, len(r.Wrappers)+1)
	parts = append(parts, r.Wrappers...)
	parts = append(parts, r.Call.Function)
	return strings.Join(parts, " > ")
}

// Resolve walks a possibly wrapped call down to the innermost staking
// module call. The second return is false when the call is neither a
// staking call nor a recognized wrapper around one; callers treat that as
// unparsable, never as a block-fatal error.
func Resolve(call *model.Call) (ResolvedCall, bool) {
	all, ok := ResolveAll(call)
	if !ok {
		return ResolvedCall{}, false
	}
	return all[0], true
}

// ResolveAll collects every innermost staking call reachable through
// wrappers, in batch order. Batches can hold several staking calls, each
// emitting its own event.
func ResolveAll(call *model.Call) ([]ResolvedCall, bool) {
	all := collect(call, 0)
	return all, len(all) > 0
}

func collect(call *model.Call, depth int) []ResolvedCall {
	if call == nil || depth > maxWrapDepth {
		return nil
	}
	if call.Module == StakingModule {
		return []ResolvedCall{{Call: call}}
	}
	if module, ok := wrapperFunctions[call.Function]; !ok || call.Module != module {
		return nil
	}

	// The wrapper grammar puts inner calls in exactly one of these args.
	value, ok := call.Arg("calls", "call")
	if !ok {
		return nil
	}

	var out []ResolvedCall
	switch value.Kind {
	case model.ValueCalls:
		// Batched calls to other modules (remarks and the like) are
		// skipped.
		for i := range value.Calls {
			for _, inner := range collect(&value.Calls[i], depth+1) {
				out = append(out, wrapped(call.Function, inner))
			}
		}
	case model.ValueCall:
		for _, inner := range collect(value.Call, depth+1) {
			out = append(out, wrapped(call.Function, inner))
		}
	}
	return out
}

func wrapped(wrapper string, inner ResolvedCall) ResolvedCall {
	wrappers := make([]string, 0, len(inner.Wrappers)+1)
	wrappers = append(wrappers, wrapper)
	wrappers = append(wrappers, inner.Wrappers...)
	return ResolvedCall{Call: inner.Call, Wrappers: wrappers}
}
