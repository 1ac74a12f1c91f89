package model

// EventID identifies a chain event within its module.
type EventID string

const (
	EventStakeAdded   EventID = "StakeAdded"
	EventStakeRemoved EventID = "StakeRemoved"
)

// Event is a decoded stake event. The first three attributes of a stake
// event are fixed: hotkey, coldkey, amount in rao.
type Event struct {
	ID        EventID `json:"event_id"`
	Hotkey    string  `json:"hotkey"`
	Coldkey   string  `json:"coldkey"`
	AmountRao uint64  `json:"amount_rao"`

	// ExtrinsicIndex is nil for events with no causing extrinsic, such as
	// system-internal stake adjustments.
	ExtrinsicIndex *uint32 `json:"extrinsic_index,omitempty"`

	// Netuid is set when the event carries a subnet id in its extended
	// attributes (seen on EVM-originated extrinsics).
	Netuid *uint64 `json:"netuid,omitempty"`
}

// Extrinsic is a signed call submitted to the chain, positioned by its
// index within the block.
type Extrinsic struct {
	Index uint32 `json:"index"`
	Call  Call   `json:"call"`
}

// Block holds the decoded extrinsics and events of one chain block, both
// in emission order.
type Block struct {
	Number     uint64      `json:"number"`
	Extrinsics []Extrinsic `json:"extrinsics"`
	Events     []Event     `json:"events"`
}

// ExtrinsicAt returns the extrinsic with the given block index, or nil if
// the index is out of range.
func (b *Block) ExtrinsicAt(index uint32) *Extrinsic {
	if int(index) >= len(b.Extrinsics) {
		return nil
	}
	ext := &b.Extrinsics[index]
	if ext.Index != index {
		for i := range b.Extrinsics {
			if b.Extrinsics[i].Index == index {
				return &b.Extrinsics[i]
			}
		}
		return nil
	}
	return ext
}
