package stake

import "stakewatch/internal/model"

// ScannedEvent pairs a stake event with its causing extrinsic, when one
// exists.
type ScannedEvent struct {
	Event     model.Event
	Extrinsic *model.Extrinsic
}

// Scan filters a block's events down to stake additions and removals and
// pairs each with its extrinsic. Block event order is preserved: movement
// operations emit an unstake followed by a stake against the same
// extrinsic, and that ordering must survive into the output.
func Scan(block *model.Block) []ScannedEvent {
	if block == nil {
		return nil
	}
	out := make([]ScannedEvent, 0, len(block.Events))
	for _, event := range block.Events {
		if event.ID != model.EventStakeAdded && event.ID != model.EventStakeRemoved {
			continue
		}
		scanned := ScannedEvent{Event: event}
		if event.ExtrinsicIndex != nil {
			scanned.Extrinsic = block.ExtrinsicAt(*event.ExtrinsicIndex)
		}
		out = append(out, scanned)
	}
	return out
}
