package stake

import "stakewatch/internal/model"

// movementFunctions relocate stake between subnets and/or accounts and
// carry origin/destination subnet arguments.
var movementFunctions = map[string]struct{}{
	"move_stake":           {},
	"move_stake_limit":     {},
	"swap_stake":           {},
	"swap_stake_limit":     {},
	"transfer_stake":       {},
	"transfer_stake_limit": {},
}

// legacyRootFunctions existed before subnet-scoped staking; without a
// netuid argument they operate on the root network.
var legacyRootFunctions = map[string]struct{}{
	"add_stake":    {},
	"remove_stake": {},
}

// Parameter aliases observed across runtime versions.
var (
	originAliases      = []string{"origin_netuid", "netuid_from", "src_netuid"}
	destinationAliases = []string{"destination_netuid", "netuid_to", "dest_netuid"}
	netuidAliases      = []string{"netuid", "net_uid"}
)

// IsMovement reports whether the function relocates stake in one call.
func IsMovement(function string) bool {
	_, ok := movementFunctions[function]
	return ok
}

// ResolveNetuid classifies the subnet of an already-resolved staking call
// from its arguments.
//
// Movement-family calls yield a Pair when both origin and destination
// resolve. When only one side resolves it is surfaced as a Scalar: the
// runtime docs do not say which side a lone value represents, so no
// direction is inferred. Simple-family calls yield the netuid argument, or
// Scalar(0) under the legacy root rule, or Unknown to signal the caller
// that the registration fallback applies.
func ResolveNetuid(call *model.Call) model.NetUid {
	if call == nil {
		return model.UnknownNetUid()
	}
	if IsMovement(call.Function) {
		return resolveMovement(call)
	}

	if netuid, ok := call.UintArg(netuidAliases...); ok {
		return model.ScalarNetUid(netuid)
	}
	if _, ok := legacyRootFunctions[call.Function]; ok {
		return model.ScalarNetUid(0)
	}
	return model.UnknownNetUid()
}

func resolveMovement(call *model.Call) model.NetUid {
	origin, hasOrigin := call.UintArg(originAliases...)
	destination, hasDestination := call.UintArg(destinationAliases...)
	if !hasDestination {
		// Swap calls on symmetric subnets reuse a plain netuid parameter
		// for the destination.
		destination, hasDestination = call.UintArg("netuid")
	}

	switch {
	case hasOrigin && hasDestination:
		return model.PairNetUid(origin, destination)
	case hasOrigin:
		return model.ScalarNetUid(origin)
	case hasDestination:
		return model.ScalarNetUid(destination)
	default:
		return model.UnknownNetUid()
	}
}
