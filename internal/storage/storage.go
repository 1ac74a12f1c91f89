package storage

import (
	"context"

	"stakewatch/internal/model"
)

// Storage is a sink for stake movement records.
type Storage interface {
	PutRecordBatch(ctx context.Context, records []model.StakeMovementRecord) error
}

// Multi fans a batch out to several sinks, stopping at the first failure.
type Multi []Storage

func (m Multi) PutRecordBatch(ctx context.Context, records []model.StakeMovementRecord) error {
	for _, sink := range m {
		if err := sink.PutRecordBatch(ctx, records); err != nil {
			return err
		}
	}
	return nil
}
