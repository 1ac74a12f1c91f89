package stake

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stakewatch/internal/model"
)

// Labels for events whose call could not be classified.
const (
	labelNoExtrinsic = "N/A (no extrinsic)"
	labelUnknown     = "unknown"
	labelEVM         = "EVM transaction"
)

// evmModule marks extrinsics submitted through the EVM compatibility
// layer; their inner call is opaque to the walker.
const evmModule = "Ethereum"

// sameSubnetSkipFunctions are the movement calls the optional same-subnet
// filter applies to. Swaps between the same subnet are legitimate and are
// never skipped.
var sameSubnetSkipFunctions = map[string]struct{}{
	"move_stake":           {},
	"move_stake_limit":     {},
	"transfer_stake":       {},
	"transfer_stake_limit": {},
}

// AggregatorConfig tunes record assembly.
type AggregatorConfig struct {
	// SkipSameSubnetMoves drops move/transfer records whose origin and
	// destination subnet are equal. Off by default so same-subnet pairs
	// stay visible.
	SkipSameSubnetMoves bool
}

// Aggregator joins scanned events with call resolution into normalized
// stake movement records. It never fails a whole block: classification
// degrades per record under uncertainty.
type Aggregator struct {
	cfg    AggregatorConfig
	regs   RegistrationSource
	logger *zap.Logger
}

// NewAggregator builds an aggregator. regs may be nil, in which case the
// registration fallback is skipped and unresolved simple-family events
// stay Unknown.
func NewAggregator(cfg AggregatorConfig, regs RegistrationSource, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{cfg: cfg, regs: regs, logger: logger}
}

// Aggregate produces one record per qualifying event of the block, in
// block event order. Re-running on the same block yields identical output.
func (a *Aggregator) Aggregate(ctx context.Context, block *model.Block) []model.StakeMovementRecord {
	if block == nil {
		return nil
	}

	scanned := Scan(block)

	// Events per extrinsic, so batches holding several staking calls can
	// pair each call with its own event.
	perExtrinsic := make(map[uint32]int)
	for _, s := range scanned {
		if s.Event.ExtrinsicIndex != nil {
			perExtrinsic[*s.Event.ExtrinsicIndex]++
		}
	}

	records := make([]model.StakeMovementRecord, 0)
	cursor := make(map[uint32]int)
	for _, s := range scanned {
		position, total := 0, 0
		if s.Event.ExtrinsicIndex != nil {
			index := *s.Event.ExtrinsicIndex
			position = cursor[index]
			cursor[index]++
			total = perExtrinsic[index]
		}

		record, keep := a.buildRecord(ctx, block, s, position, total)
		if !keep {
			continue
		}
		record.Ordinal = uint32(len(records))
		records = append(records, record)
	}
	return records
}

func (a *Aggregator) buildRecord(ctx context.Context, block *model.Block, scanned ScannedEvent, position, total int) (model.StakeMovementRecord, bool) {
	event := scanned.Event
	record := model.StakeMovementRecord{
		BlockNumber:    block.Number,
		ExtrinsicIndex: event.ExtrinsicIndex,
		Direction:      model.DirectionForEvent(event.ID),
		Address:        event.Hotkey,
		Hotkey:         event.Hotkey,
		Coldkey:        event.Coldkey,
		AmountRao:      event.AmountRao,
		Netuid:         model.UnknownNetUid(),
	}

	if scanned.Extrinsic == nil {
		record.MethodLabel = labelNoExtrinsic
		return record, true
	}

	all, ok := ResolveAll(&scanned.Extrinsic.Call)
	if !ok {
		record.MethodLabel = labelUnknown
		if scanned.Extrinsic.Call.Module == evmModule {
			record.MethodLabel = labelEVM
		}
		return record, true
	}

	// A batch with exactly one staking call per stake event pairs them one
	// to one. Any other shape (movement calls emit two events from one
	// call, batches may partially fail) classifies every event against the
	// first staking call.
	resolved := all[0]
	if len(all) > 1 && len(all) == total {
		resolved = all[position]
	}

	record.MethodLabel = resolved.Label()
	record.Netuid = ResolveNetuid(resolved.Call)

	if a.cfg.SkipSameSubnetMoves && a.isSameSubnetMove(resolved, record.Netuid) {
		a.logger.Debug("skip same-subnet movement",
			zap.Uint64("block_number", block.Number),
			zap.String("method", record.MethodLabel),
			zap.Uint64("netuid", record.Netuid.Origin),
		)
		return model.StakeMovementRecord{}, false
	}

	if record.Netuid.Kind == model.NetUidUnknown && !IsMovement(resolved.Call.Function) {
		record.Netuid = a.fallbackNetuid(ctx, event)
	}
	return record, true
}

func (a *Aggregator) isSameSubnetMove(resolved ResolvedCall, netuid model.NetUid) bool {
	if netuid.Kind != model.NetUidPair || netuid.Origin != netuid.Destination {
		return false
	}
	_, ok := sameSubnetSkipFunctions[resolved.Call.Function]
	return ok
}

// fallbackNetuid is consulted only for simple-family events whose call
// carried no netuid: first the event's own extended attribute, then the
// hotkey's registrations. A failed or timed-out lookup degrades to
// Unknown, never to an error.
func (a *Aggregator) fallbackNetuid(ctx context.Context, event model.Event) model.NetUid {
	if event.Netuid != nil {
		return model.ScalarNetUid(*event.Netuid)
	}
	if a.regs == nil {
		return model.UnknownNetUid()
	}

	netuids, err := a.regs.RegistrationsFor(ctx, event.Hotkey)
	if err != nil {
		a.logger.Warn("registration lookup failed",
			zap.String("hotkey", event.Hotkey),
			zap.Error(err),
		)
		return model.UnknownNetUid()
	}
	return ClassifyRegistrations(netuids)
}

// MergeRecords sums the amounts of records that agree on extrinsic index,
// direction, method, address, and subnet, preserving first-seen order.
// Batched extrinsics staking the same subnet repeatedly collapse to one
// line this way.
func MergeRecords(records []model.StakeMovementRecord) []model.StakeMovementRecord {
	if len(records) < 2 {
		return records
	}

	type mergeKey struct {
		extrinsic string
		direction model.Direction
		method    string
		address   string
		netuid    string
	}

	out := make([]model.StakeMovementRecord, 0, len(records))
	index := make(map[mergeKey]int, len(records))
	for _, record := range records {
		extrinsic := "none"
		if record.ExtrinsicIndex != nil {
			extrinsic = fmt.Sprintf("%d", *record.ExtrinsicIndex)
		}
		key := mergeKey{
			extrinsic: extrinsic,
			direction: record.Direction,
			method:    record.MethodLabel,
			address:   record.Address,
			netuid:    record.Netuid.String(),
		}
		if at, ok := index[key]; ok {
			out[at].AmountRao += record.AmountRao
			continue
		}
		index[key] = len(out)
		out = append(out, record)
	}
	return out
}
