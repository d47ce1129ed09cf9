package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"custodychain/internal/ledger"
	"custodychain/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIndexer struct {
	mu     sync.Mutex
	blocks map[int64]models.Block
	fail   bool
}

func newMemIndexer() *memIndexer {
	return &memIndexer{blocks: make(map[int64]models.Block)}
}

func (i *memIndexer) IndexBlock(ctx context.Context, block *models.Block) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.fail {
		return errors.New("index unavailable")
	}
	i.blocks[block.Index] = *block
	return nil
}

func (i *memIndexer) MaxIndexedBlock(ctx context.Context) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	latest := int64(-1)
	for idx := range i.blocks {
		latest = max(latest, idx)
	}
	return latest, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMiner(t *testing.T, difficulty int, opts ...Option) (*Miner, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.New(ledger.WithDifficulty(difficulty))
	require.NoError(t, err)
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return NewMiner(l, opts...), l
}

func startMiner(t *testing.T, m *Miner) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func acetone(company string) models.Transaction {
	return models.Transaction{
		CompanyID:       company,
		ChemicalType:    "Acetone",
		Quantity:        decimal.NewFromInt(50),
		TransactionType: models.TxManufacture,
	}
}

func TestSealThroughRunningMiner(t *testing.T) {
	store := &ledger.MemoryStateStore{}
	indexer := newMemIndexer()
	m, l := newTestMiner(t, 1, WithStateStore(store), WithIndexer(indexer))
	startMiner(t, m)
	ctx := context.Background()

	ref, err := m.Submit(ctx, acetone("C1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), ref.BlockIndex)

	block, err := m.Seal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), block.Index)
	assert.Len(t, block.Transactions, 1)
	assert.True(t, ledger.MeetsDifficulty(block.Hash, 1))
	assert.Equal(t, 2, l.Len())
	assert.Empty(t, l.Pending())

	restored, err := ledger.Open(ctx, store, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, block.Hash, restored.Tip().Hash)

	indexer.mu.Lock()
	assert.Contains(t, indexer.blocks, int64(1))
	indexer.mu.Unlock()
}

func TestSubmitPersistsPendingPool(t *testing.T) {
	store := &ledger.MemoryStateStore{}
	m, _ := newTestMiner(t, 1, WithStateStore(store))

	_, err := m.Submit(context.Background(), acetone("C2"))
	require.NoError(t, err)

	restored, err := ledger.Open(context.Background(), store, quietLogger())
	require.NoError(t, err)
	require.Len(t, restored.Pending(), 1)
	assert.Equal(t, "C2", restored.Pending()[0].CompanyID)
}

func TestSubmitRejectsInvalidTransaction(t *testing.T) {
	m, l := newTestMiner(t, 1)
	_, err := m.Submit(context.Background(), models.Transaction{CompanyID: "C1"})
	require.Error(t, err)
	assert.Empty(t, l.Pending())
}

func TestSealTimeout(t *testing.T) {
	m, l := newTestMiner(t, ledger.MaxDifficulty, WithSealTimeout(20*time.Millisecond))
	startMiner(t, m)

	_, err := m.Seal(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Len())
}

func TestSealAfterStop(t *testing.T) {
	m, _ := newTestMiner(t, 1)
	cancel := startMiner(t, m)
	cancel()

	require.Eventually(t, func() bool {
		_, err := m.Seal(context.Background())
		return errors.Is(err, ErrMinerStopped)
	}, time.Second, 5*time.Millisecond)
}

func TestSealsAreSerialised(t *testing.T) {
	m, l := newTestMiner(t, 1)
	startMiner(t, m)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Seal(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, l.Len())
	assert.NoError(t, l.VerifyChain())
}

func TestProgressUpdates(t *testing.T) {
	m, _ := newTestMiner(t, 1)
	block, err := m.SealNow(context.Background())
	require.NoError(t, err)

	var statuses []string
	var final ProgressUpdate
	for len(m.GetProgressChannel()) > 0 {
		u := <-m.GetProgressChannel()
		statuses = append(statuses, u.Status)
		final = u
	}
	require.NotEmpty(t, statuses)
	assert.Equal(t, StatusSealing, statuses[0])
	assert.Equal(t, StatusSealed, final.Status)
	assert.Equal(t, block.Hash, final.Hash)
}

func TestIndexFailureDoesNotUndoSeal(t *testing.T) {
	indexer := newMemIndexer()
	indexer.fail = true
	m, l := newTestMiner(t, 1, WithIndexer(indexer))

	_, err := m.SealNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())
}

func TestBackfill(t *testing.T) {
	indexer := newMemIndexer()
	m, _ := newTestMiner(t, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := m.SealNow(ctx)
		require.NoError(t, err)
	}

	m.indexer = indexer
	n, err := m.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = m.Backfill(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
