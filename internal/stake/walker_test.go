package stake

import (
	"testing"

	"stakewatch/internal/model"
)

func stakingCall(function string, args ...model.CallArg) model.Call {
	return model.Call{Module: StakingModule, Function: function, Args: args}
}

func batchOf(function string, calls ...model.Call) model.Call {
	return model.Call{
		Module:   "Utility",
		Function: function,
		Args: []model.CallArg{
			{Name: "calls", Value: model.InnerCallsValue(calls)},
		},
	}
}

func proxyOf(inner model.Call) model.Call {
	return model.Call{
		Module:   "Proxy",
		Function: "proxy",
		Args: []model.CallArg{
			{Name: "real", Value: model.StringValue("5Real...")},
			{Name: "call", Value: model.InnerCallValue(inner)},
		},
	}
}

func TestResolveDirectStakingCall(t *testing.T) {
	call := stakingCall("add_stake", model.CallArg{Name: "netuid", Value: model.UintValue(67)})

	resolved, ok := Resolve(&call)
	if !ok {
		t.Fatalf("expected resolution")
	}
	if len(resolved.Wrappers) != 0 {
		t.Fatalf("unexpected wrappers: %v", resolved.Wrappers)
	}
	if resolved.Call != &call {
		t.Fatalf("resolved call should be the original")
	}
	if resolved.Label() != "add_stake" {
		t.Fatalf("label: %q", resolved.Label())
	}
}

func TestResolveBatchSkipsNonStakingCalls(t *testing.T) {
	remark := model.Call{Module: "System", Function: "remark"}
	call := batchOf("batch", remark, stakingCall("remove_stake"))

	resolved, ok := Resolve(&call)
	if !ok {
		t.Fatalf("expected resolution")
	}
	if resolved.Label() != "batch > remove_stake" {
		t.Fatalf("label: %q", resolved.Label())
	}
}

func TestResolveAllCollectsBatchEntries(t *testing.T) {
	call := batchOf("batch",
		stakingCall("add_stake", model.CallArg{Name: "netuid", Value: model.UintValue(67)}),
		model.Call{Module: "System", Function: "remark"},
		stakingCall("add_stake", model.CallArg{Name: "netuid", Value: model.UintValue(73)}),
	)

	all, ok := ResolveAll(&call)
	if !ok || len(all) != 2 {
		t.Fatalf("expected two staking calls, got %d (ok=%v)", len(all), ok)
	}
	first, _ := all[0].Call.UintArg("netuid")
	second, _ := all[1].Call.UintArg("netuid")
	if first != 67 || second != 73 {
		t.Fatalf("batch order: %d, %d", first, second)
	}
}

func TestResolveAccumulatesWrapperChain(t *testing.T) {
	call := batchOf("batch_all", proxyOf(batchOf("force_batch", stakingCall("move_stake"))))

	resolved, ok := Resolve(&call)
	if !ok {
		t.Fatalf("expected resolution")
	}
	if resolved.Label() != "batch_all > proxy > force_batch > move_stake" {
		t.Fatalf("label: %q", resolved.Label())
	}
}

func TestResolveDepthBound(t *testing.T) {
	atLimit := stakingCall("add_stake")
	for i := 0; i < maxWrapDepth; i++ {
		atLimit = proxyOf(atLimit)
	}
	resolved, ok := Resolve(&atLimit)
	if !ok {
		t.Fatalf("depth %d should resolve", maxWrapDepth)
	}
	if len(resolved.Wrappers) != maxWrapDepth {
		t.Fatalf("wrapper count: %d", len(resolved.Wrappers))
	}

	beyond := proxyOf(atLimit)
	if _, ok := Resolve(&beyond); ok {
		t.Fatalf("depth %d should not resolve", maxWrapDepth+1)
	}
}

func TestResolveUnrecognizedCalls(t *testing.T) {
	plain := model.Call{Module: "Balances", Function: "transfer"}
	if _, ok := Resolve(&plain); ok {
		t.Fatalf("non-staking call should not resolve")
	}

	// Wrapper whose inner argument is not a decodable call.
	hashOnly := model.Call{
		Module:   "Multisig",
		Function: "approve_as_multi",
		Args: []model.CallArg{
			{Name: "call_hash", Value: model.StringValue("0xdead")},
		},
	}
	if _, ok := Resolve(&hashOnly); ok {
		t.Fatalf("call-hash wrapper should not resolve")
	}

	// Batch with no staking call inside.
	empty := batchOf("batch", model.Call{Module: "System", Function: "remark"})
	if _, ok := Resolve(&empty); ok {
		t.Fatalf("batch without staking call should not resolve")
	}

	if _, ok := Resolve(nil); ok {
		t.Fatalf("nil call should not resolve")
	}
}

func TestResolveWrapperRequiresMatchingModule(t *testing.T) {
	// A same-named function on another pallet is not a wrapper, even with
	// a decodable inner call.
	inner := stakingCall("add_stake", model.CallArg{Name: "netuid", Value: model.UintValue(67)})
	impostor := model.Call{
		Module:   "Balances",
		Function: "batch",
		Args: []model.CallArg{
			{Name: "calls", Value: model.InnerCallsValue([]model.Call{inner})},
		},
	}
	if _, ok := Resolve(&impostor); ok {
		t.Fatalf("batch outside Utility should not resolve")
	}

	foreignProxy := model.Call{
		Module:   "Sudo",
		Function: "proxy",
		Args: []model.CallArg{
			{Name: "call", Value: model.InnerCallValue(inner)},
		},
	}
	if _, ok := Resolve(&foreignProxy); ok {
		t.Fatalf("proxy outside Proxy should not resolve")
	}
}
