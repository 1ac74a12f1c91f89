package model

// Direction distinguishes stake additions from removals.
type Direction string

const (
	DirectionStake   Direction = "STAKE"
	DirectionUnstake Direction = "UNSTAKE"
)

// DirectionForEvent maps an event id to its movement direction.
func DirectionForEvent(id EventID) Direction {
	if id == EventStakeRemoved {
		return DirectionUnstake
	}
	return DirectionStake
}

// StakeMovementRecord is one normalized, displayable stake movement. It is
// created once per qualifying event during aggregation and immutable
// thereafter.
type StakeMovementRecord struct {
	BlockNumber    uint64    `json:"block_number"`
	Ordinal        uint32    `json:"ordinal"`
	ExtrinsicIndex *uint32   `json:"extrinsic_index,omitempty"`
	Direction      Direction `json:"direction"`
	MethodLabel    string    `json:"method"`
	Address        string    `json:"address"`
	Hotkey         string    `json:"hotkey"`
	Coldkey        string    `json:"coldkey"`
	AmountRao      uint64    `json:"amount_rao"`
	Netuid         NetUid    `json:"netuid"`
}

// AmountTao converts the rao amount to whole-token units for display.
func (r StakeMovementRecord) AmountTao() float64 {
	return float64(r.AmountRao) / 1e9
}
