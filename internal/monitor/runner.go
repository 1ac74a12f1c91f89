package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"stakewatch/internal/model"
	"stakewatch/internal/stake"
	"stakewatch/internal/storage"
)

// ChainSource supplies decoded blocks and the chain head height.
type ChainSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*model.Block, error)
}

// StateStore persists watch progress so a restarted watcher resumes from
// its last processed block instead of the current head.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, block uint64) error
}

// RunConfig holds runtime settings for the monitor.
type RunConfig struct {
	FromBlock uint64
	// ToBlock is inclusive; 0 means the chain head at startup.
	ToBlock           uint64
	BatchSize         uint64
	Workers           int
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	// MergeDuplicates collapses records that only differ by amount before
	// they reach storage.
	MergeDuplicates bool
}

// Runner fetches blocks, runs stake correlation on each, and writes the
// resulting records to storage.
type Runner struct {
	cfg        RunConfig
	chain      ChainSource
	aggregator *stake.Aggregator
	storage    storage.Storage
	logger     *zap.Logger
	checkpoint *CheckpointStore

	state     StateStore
	stateName string
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, chain ChainSource, aggregator *stake.Aggregator, sink storage.Storage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		chain:      chain,
		aggregator: aggregator,
		storage:    sink,
		logger:     logger,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
}

// UseState attaches persistent watch progress under the given name.
func (r *Runner) UseState(store StateStore, name string) {
	r.state = store
	r.stateName = name
}

// Run scans the configured block range. Blocks within a batch are
// processed by a bounded worker pool; the batch output is reassembled in
// block order before it is stored, so record order stays legible for
// movement pairs.
func (r *Runner) Run(ctx context.Context) error {
	if r.chain == nil {
		return fmt.Errorf("chain source is nil")
	}
	if r.storage == nil {
		return fmt.Errorf("storage is nil")
	}
	if r.aggregator == nil {
		return fmt.Errorf("aggregator is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.chain.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	if r.checkpoint != nil {
		cp, ok, err := r.checkpoint.Load()
		if err != nil {
			return err
		}
		if ok && cp.LastProcessedBlock >= from {
			from = cp.LastProcessedBlock + 1
			r.logger.Info("resume from checkpoint",
				zap.Uint64("last_processed", cp.LastProcessedBlock),
				zap.Uint64("from", from),
			)
		}
	}

	if from > to {
		r.logger.Info("nothing to scan", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	for batchFrom := from; batchFrom <= to; {
		batchTo := batchFrom + r.cfg.BatchSize - 1
		if batchTo > to || batchTo < batchFrom {
			batchTo = to
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		count, err := r.processBatch(ctx, batchFrom, batchTo)
		if err != nil {
			return err
		}
		if r.checkpoint != nil {
			if err := r.checkpoint.Save(batchTo); err != nil {
				return err
			}
		}
		r.logger.Info("batch complete",
			zap.Uint64("from", batchFrom),
			zap.Uint64("to", batchTo),
			zap.Int("records", count),
		)

		if batchTo == to {
			break
		}
		batchFrom = batchTo + 1
	}

	return nil
}

func (r *Runner) processBatch(ctx context.Context, from, to uint64) (int, error) {
	count := int(to - from + 1)
	results := make([][]model.StakeMovementRecord, count)

	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > count {
		workers = count
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				records, err := r.processBlock(workCtx, from+uint64(i))
				if err != nil {
					fail(err)
					return
				}
				results[i] = records
			}
		}()
	}

feed:
	for i := 0; i < count; i++ {
		select {
		case jobs <- i:
		case <-workCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return 0, firstErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var batch []model.StakeMovementRecord
	for _, records := range results {
		batch = append(batch, records...)
	}
	if err := r.storage.PutRecordBatch(ctx, batch); err != nil {
		return 0, fmt.Errorf("store records: %w", err)
	}
	return len(batch), nil
}

// processBlock fetches one block with retry and correlates its stake
// events. Aggregation itself never fails; only the fetch can.
func (r *Runner) processBlock(ctx context.Context, number uint64) ([]model.StakeMovementRecord, error) {
	var block *model.Block
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		block, err = r.chain.BlockByNumber(ctx, number)
		if err != nil {
			r.logger.Warn("block fetch failed", zap.Uint64("block_number", number), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch block %d: %w", number, err)
	}

	records := r.aggregator.Aggregate(ctx, block)
	if r.cfg.MergeDuplicates {
		records = stake.MergeRecords(records)
	}
	return records, nil
}

// Watch follows the chain head, processing each new block as it appears.
// A failed block is retried on the next tick instead of being skipped.
func (r *Runner) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 12 * time.Second
	}

	last, err := r.chain.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get chain head: %w", err)
	}
	if r.state != nil {
		saved, ok, err := r.state.LoadState(ctx, r.stateName)
		if err != nil {
			return fmt.Errorf("load watch state: %w", err)
		}
		if ok && saved < last {
			r.logger.Info("resume watch from saved state", zap.Uint64("last_processed", saved))
			last = saved
		}
	}
	r.logger.Info("watch start", zap.Uint64("head", last), zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		latest, err := r.chain.LatestBlockNumber(ctx)
		if err != nil {
			r.logger.Warn("head fetch failed", zap.Error(err))
			continue
		}

		for number := last + 1; number <= latest; number++ {
			records, err := r.processBlock(ctx, number)
			if err != nil {
				r.logger.Warn("block processing failed", zap.Uint64("block_number", number), zap.Error(err))
				break
			}
			if err := r.storage.PutRecordBatch(ctx, records); err != nil {
				return fmt.Errorf("store records: %w", err)
			}

			r.logBlock(number, records)
			last = number
			if r.state != nil {
				if err := r.state.SaveState(ctx, r.stateName, number); err != nil {
					r.logger.Warn("save watch state failed", zap.Error(err))
				}
			}
		}
	}
}

func (r *Runner) logBlock(number uint64, records []model.StakeMovementRecord) {
	if len(records) == 0 {
		r.logger.Debug("no stake movements", zap.Uint64("block_number", number))
		return
	}
	for _, record := range records {
		r.logger.Info("stake movement",
			zap.Uint64("block_number", record.BlockNumber),
			zap.String("direction", string(record.Direction)),
			zap.String("method", record.MethodLabel),
			zap.String("address", record.Address),
			zap.Float64("amount_tao", record.AmountTao()),
			zap.String("netuid", record.Netuid.String()),
		)
	}
}

func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	const maxDelay = 30 * time.Second

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
