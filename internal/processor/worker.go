package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"custodychain/internal/ledger"
	"custodychain/internal/metrics"
	"custodychain/pkg/models"
)

var ErrMinerStopped = errors.New("miner stopped")

// BlockIndexer mirrors sealed blocks into a queryable store.
type BlockIndexer interface {
	IndexBlock(ctx context.Context, block *models.Block) error
	MaxIndexedBlock(ctx context.Context) (int64, error)
}

type ProgressUpdate struct {
	BlockIndex int64
	Difficulty int
	TxCount    int
	Attempts   uint64
	Elapsed    time.Duration
	Hash       string
	Status     string
	Error      error
}

const (
	StatusSealing = "sealing"
	StatusSealed  = "sealed"
	StatusFailed  = "failed"
)

type sealJob struct {
	ctx    context.Context
	result chan sealResult
}

type sealResult struct {
	block *models.Block
	err   error
}

// Miner owns proof-of-work for one ledger. Seals requested through Seal run
// on the goroutine started by Run.
type Miner struct {
	ledger      *ledger.Ledger
	store       ledger.StateStore
	indexer     BlockIndexer
	log         *slog.Logger
	sealTimeout time.Duration

	jobs      chan sealJob
	stopped   chan struct{}
	stopOnce  sync.Once
	progress  chan ProgressUpdate
	persistMu sync.Mutex
}

type Option func(*Miner)

func WithStateStore(store ledger.StateStore) Option {
	return func(m *Miner) { m.store = store }
}

func WithIndexer(indexer BlockIndexer) Option {
	return func(m *Miner) { m.indexer = indexer }
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Miner) { m.log = log }
}

func WithSealTimeout(d time.Duration) Option {
	return func(m *Miner) { m.sealTimeout = d }
}

func NewMiner(l *ledger.Ledger, opts ...Option) *Miner {
	m := &Miner{
		ledger:   l,
		log:      slog.Default(),
		jobs:     make(chan sealJob),
		stopped:  make(chan struct{}),
		progress: make(chan ProgressUpdate, 64),
	}
	for _, opt := range opts {
		opt(m)
	}
	metrics.ChainLength.Set(float64(l.Len()))
	metrics.PendingTransactions.Set(float64(len(l.Pending())))
	return m
}

// Run serves seal jobs until ctx is done.
func (m *Miner) Run(ctx context.Context) error {
	m.log.Info("miner started", slog.Int("difficulty", m.ledger.Difficulty()))
	defer m.stopOnce.Do(func() { close(m.stopped) })
	for {
		select {
		case job := <-m.jobs:
			block, err := m.seal(job.ctx)
			job.result <- sealResult{block: block, err: err}
		case <-ctx.Done():
			m.log.Info("miner stopped")
			return nil
		}
	}
}

// Seal hands a seal job to the running miner and waits for the block.
func (m *Miner) Seal(ctx context.Context) (*models.Block, error) {
	job := sealJob{ctx: ctx, result: make(chan sealResult, 1)}
	select {
	case m.jobs <- job:
	case <-m.stopped:
		return nil, ErrMinerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res := <-job.result
	return res.block, res.err
}

// SealNow seals on the calling goroutine. Used by one-shot CLI commands
// that never start Run.
func (m *Miner) SealNow(ctx context.Context) (*models.Block, error) {
	return m.seal(ctx)
}

// Submit adds tx to the pending pool and persists the pool.
func (m *Miner) Submit(ctx context.Context, tx models.Transaction) (models.BlockRef, error) {
	ref, err := m.ledger.AddTransaction(tx)
	if err != nil {
		return ref, err
	}
	metrics.PendingTransactions.Set(float64(len(m.ledger.Pending())))
	if err := m.persist(ctx); err != nil {
		return ref, err
	}
	return ref, nil
}

func (m *Miner) seal(ctx context.Context) (*models.Block, error) {
	if m.sealTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.sealTimeout)
		defer cancel()
	}

	next := m.ledger.Tip().Index + 1
	difficulty := m.ledger.Difficulty()
	txCount := len(m.ledger.Pending())
	start := time.Now()
	var lastAttempts uint64

	m.emit(ProgressUpdate{
		BlockIndex: next,
		Difficulty: difficulty,
		TxCount:    txCount,
		Status:     StatusSealing,
	})

	block, err := m.ledger.MinePendingTransactions(ctx, func(attempts uint64) {
		metrics.NonceAttempts.Add(float64(attempts - lastAttempts))
		lastAttempts = attempts
		m.emit(ProgressUpdate{
			BlockIndex: next,
			Difficulty: difficulty,
			TxCount:    txCount,
			Attempts:   attempts,
			Elapsed:    time.Since(start),
			Status:     StatusSealing,
		})
	})
	elapsed := time.Since(start)
	if err != nil {
		metrics.SealFailures.WithLabelValues(failureReason(err)).Inc()
		m.log.Warn("seal failed",
			slog.Int64("block", next),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
		m.emit(ProgressUpdate{
			BlockIndex: next,
			Difficulty: difficulty,
			Attempts:   lastAttempts,
			Elapsed:    elapsed,
			Status:     StatusFailed,
			Error:      err,
		})
		return nil, fmt.Errorf("failed to seal block %d: %w", next, err)
	}

	metrics.BlocksSealed.Inc()
	metrics.SealDuration.Observe(elapsed.Seconds())
	metrics.ChainLength.Set(float64(m.ledger.Len()))
	metrics.PendingTransactions.Set(float64(len(m.ledger.Pending())))

	m.log.Info("block sealed",
		slog.Int64("block", block.Index),
		slog.Int("txs", len(block.Transactions)),
		slog.Uint64("nonce", block.Nonce),
		slog.String("hash", block.Hash),
		slog.Duration("elapsed", elapsed))

	// The block is already on the chain; storage failures are reported but
	// do not undo the seal.
	persistCtx := context.WithoutCancel(ctx)
	if err := m.persist(persistCtx); err != nil {
		m.log.Error("failed to persist ledger", slog.String("error", err.Error()))
	}
	if m.indexer != nil {
		if err := m.indexer.IndexBlock(persistCtx, block); err != nil {
			m.log.Error("failed to index block", slog.Int64("block", block.Index), slog.String("error", err.Error()))
		}
	}

	m.emit(ProgressUpdate{
		BlockIndex: block.Index,
		Difficulty: difficulty,
		TxCount:    len(block.Transactions),
		Attempts:   block.Nonce + 1,
		Elapsed:    elapsed,
		Hash:       block.Hash,
		Status:     StatusSealed,
	})
	return block, nil
}

func (m *Miner) persist(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	return ledger.Save(ctx, m.ledger, m.store)
}

// Backfill indexes every block past the indexer's high-water mark.
func (m *Miner) Backfill(ctx context.Context) (int, error) {
	if m.indexer == nil {
		return 0, nil
	}
	last, err := m.indexer.MaxIndexedBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read index high-water mark: %w", err)
	}

	indexed := 0
	for _, block := range m.ledger.Blocks() {
		if block.Index <= last {
			continue
		}
		select {
		case <-ctx.Done():
			return indexed, ctx.Err()
		default:
		}
		if err := m.indexer.IndexBlock(ctx, &block); err != nil {
			return indexed, fmt.Errorf("failed to index block %d: %w", block.Index, err)
		}
		indexed++
	}
	if indexed > 0 {
		m.log.Info("block index backfilled", slog.Int("blocks", indexed))
	}
	return indexed, nil
}

func (m *Miner) emit(update ProgressUpdate) {
	select {
	case m.progress <- update:
	default:
	}
}

func (m *Miner) GetProgressChannel() <-chan ProgressUpdate {
	return m.progress
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ledger.ErrNonceExhausted):
		return "exhausted"
	}
	return "error"
}
