package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stakewatch/internal/model"
	"stakewatch/internal/stake"
)

type fakeChain struct {
	mu      sync.Mutex
	head    uint64
	fetched map[uint64]int
	failAt  map[uint64]error
	blocks  map[uint64]*model.Block
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{
		head:    head,
		fetched: map[uint64]int{},
		failAt:  map[uint64]error{},
		blocks:  map[uint64]*model.Block{},
	}
}

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChain) BlockByNumber(_ context.Context, number uint64) (*model.Block, error) {
	f.mu.Lock()
	f.fetched[number]++
	err := f.failAt[number]
	block := f.blocks[number]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if block != nil {
		return block, nil
	}
	return blockWithStake(number), nil
}

func (f *fakeChain) fetchCount(number uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched[number]
}

// blockWithStake builds a block carrying one add_stake extrinsic and its
// matching StakeAdded event, amount equal to the block number.
func blockWithStake(number uint64) *model.Block {
	index := uint32(0)
	return &model.Block{
		Number: number,
		Extrinsics: []model.Extrinsic{{
			Index: 0,
			Call: model.Call{
				Module:   stake.StakingModule,
				Function: "add_stake",
				Args: []model.CallArg{
					{Name: "hotkey", Value: model.StringValue("5Hot")},
					{Name: "netuid", Value: model.UintValue(number % 8)},
				},
			},
		}},
		Events: []model.Event{{
			ID:             model.EventStakeAdded,
			Hotkey:         "5Hot",
			Coldkey:        "5Cold",
			AmountRao:      number,
			ExtrinsicIndex: &index,
		}},
	}
}

type memorySink struct {
	mu      sync.Mutex
	batches int
	records []model.StakeMovementRecord
}

func (m *memorySink) PutRecordBatch(_ context.Context, records []model.StakeMovementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	m.records = append(m.records, records...)
	return nil
}

func (m *memorySink) all() []model.StakeMovementRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.StakeMovementRecord(nil), m.records...)
}

func newTestRunner(cfg RunConfig, chain *fakeChain, sink *memorySink) *Runner {
	agg := stake.NewAggregator(stake.AggregatorConfig{}, nil, nil)
	return NewRunner(cfg, chain, agg, sink, nil)
}

func TestRunStoresRangeInBlockOrder(t *testing.T) {
	chain := newFakeChain(0)
	sink := &memorySink{}
	runner := newTestRunner(RunConfig{
		FromBlock: 10,
		ToBlock:   25,
		BatchSize: 5,
		Workers:   3,
	}, chain, sink)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	records := sink.all()
	if len(records) != 16 {
		t.Fatalf("record count: %d", len(records))
	}
	for i, record := range records {
		want := uint64(10 + i)
		if record.BlockNumber != want {
			t.Fatalf("record %d out of order: block %d, want %d", i, record.BlockNumber, want)
		}
	}
	for number := uint64(10); number <= 25; number++ {
		if got := chain.fetchCount(number); got != 1 {
			t.Fatalf("block %d fetched %d times", number, got)
		}
	}
}

func TestRunUsesHeadWhenToIsZero(t *testing.T) {
	chain := newFakeChain(4)
	sink := &memorySink{}
	runner := newTestRunner(RunConfig{FromBlock: 2, BatchSize: 10, Workers: 1}, chain, sink)

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(sink.all()); got != 3 {
		t.Fatalf("record count: %d", got)
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	chain := newFakeChain(0)
	cfg := RunConfig{
		FromBlock:         1,
		ToBlock:           6,
		BatchSize:         3,
		Workers:           2,
		CheckpointPath:    path,
		CheckpointEnabled: true,
	}

	if err := newTestRunner(cfg, chain, &memorySink{}).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	cfg.ToBlock = 10
	sink := &memorySink{}
	if err := newTestRunner(cfg, chain, sink).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := len(sink.all()); got != 4 {
		t.Fatalf("resumed record count: %d", got)
	}
	for number := uint64(1); number <= 6; number++ {
		if got := chain.fetchCount(number); got != 1 {
			t.Fatalf("block %d refetched after checkpoint: %d", number, got)
		}
	}
}

func TestRunFailsAfterRetriesExhausted(t *testing.T) {
	chain := newFakeChain(0)
	chain.failAt[3] = errors.New("node unavailable")
	sink := &memorySink{}
	runner := newTestRunner(RunConfig{
		FromBlock:    1,
		ToBlock:      5,
		BatchSize:    5,
		Workers:      2,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, chain, sink)

	err := runner.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := chain.fetchCount(3); got != 3 {
		t.Fatalf("block 3 attempts: %d", got)
	}
	// A failed batch stores nothing.
	if sink.batches != 0 {
		t.Fatalf("batches stored: %d", sink.batches)
	}
}

func TestRunMergesDuplicates(t *testing.T) {
	chain := newFakeChain(0)
	sink := &memorySink{}
	runner := newTestRunner(RunConfig{
		FromBlock:       7,
		ToBlock:         7,
		BatchSize:       1,
		Workers:         1,
		MergeDuplicates: true,
	}, chain, sink)

	// Two events under the same add_stake extrinsic collapse to one record.
	index := uint32(0)
	block := blockWithStake(7)
	block.Events = append(block.Events, model.Event{
		ID:             model.EventStakeAdded,
		Hotkey:         "5Hot",
		Coldkey:        "5Cold",
		AmountRao:      13,
		ExtrinsicIndex: &index,
	})
	chain.blocks[7] = block

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("stored records: %d", len(records))
	}
	if records[0].AmountRao != 20 {
		t.Fatalf("merged amount: %d", records[0].AmountRao)
	}
}

type fakeStateStore struct {
	mu    sync.Mutex
	saved map[string]uint64
}

func (f *fakeStateStore) LoadState(_ context.Context, name string) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block, ok := f.saved[name]
	return block, ok, nil
}

func (f *fakeStateStore) SaveState(_ context.Context, name string, block uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[name] = block
	return nil
}

func TestWatchResumesFromSavedState(t *testing.T) {
	chain := newFakeChain(5)
	sink := &memorySink{}
	runner := newTestRunner(RunConfig{}, chain, sink)

	state := &fakeStateStore{saved: map[string]uint64{"watch": 2}}
	runner.UseState(state, "watch")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Watch(ctx, time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for len(sink.all()) < 3 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("timed out, stored %d records", len(sink.all()))
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("watch exit: %v", err)
	}

	records := sink.all()[:3]
	for i, record := range records {
		if record.BlockNumber != uint64(3+i) {
			t.Fatalf("record %d: block %d", i, record.BlockNumber)
		}
	}
	state.mu.Lock()
	saved := state.saved["watch"]
	state.mu.Unlock()
	if saved < 5 {
		t.Fatalf("saved state: %d", saved)
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient %d", attempts)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts: %d", attempts)
	}
}

func TestWithRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := withRetry(ctx, 10, time.Hour, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("always fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts: %d", attempts)
	}
}

func TestCheckpointStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkpoint.json")
	store := NewCheckpointStore(path, true)

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("load before save: ok=%v err=%v", ok, err)
	}
	if err := store.Save(1234); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if cp.LastProcessedBlock != 1234 {
		t.Fatalf("last processed: %d", cp.LastProcessedBlock)
	}

	disabled := NewCheckpointStore(path, false)
	if err := disabled.Save(9999); err != nil {
		t.Fatalf("disabled save: %v", err)
	}
	if cp, _, _ := store.Load(); cp.LastProcessedBlock != 1234 {
		t.Fatalf("disabled save must not write: %d", cp.LastProcessedBlock)
	}
}
