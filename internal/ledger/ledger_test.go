package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"custodychain/internal/apperr"
	"custodychain/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	l, err := New(append([]Option{WithDifficulty(2)}, opts...)...)
	require.NoError(t, err)
	return l
}

func tx(company, chemical string, qty int64, kind string) models.Transaction {
	return models.Transaction{
		CompanyID:       company,
		ChemicalType:    chemical,
		Quantity:        decimal.NewFromInt(qty),
		TransactionType: kind,
	}
}

func TestExampleScenario(t *testing.T) {
	l := newTestLedger(t)

	ref, err := l.AddTransaction(tx("C1", "Acetone", 50, models.TxManufacture))
	require.NoError(t, err)
	assert.Equal(t, models.BlockRef{BlockIndex: 1, Position: 0, Pending: true}, ref)

	block, err := l.MinePendingTransactions(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), block.Index)

	assert.Equal(t, 2, l.Len())
	assert.True(t, l.IsChainValid())

	history := l.TransactionHistory("C1")
	require.Len(t, history, 1)
	assert.Equal(t, "Acetone", history[0].ChemicalType)
	assert.True(t, history[0].Quantity.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, models.TxManufacture, history[0].TransactionType)
	assert.Empty(t, l.Pending())
}

func TestAddTransactionValidation(t *testing.T) {
	cases := []struct {
		name  string
		tx    models.Transaction
		field string
	}{
		{"missing company", tx("", "Acetone", 1, models.TxSale), "companyId"},
		{"missing chemical", tx("C1", "", 1, models.TxSale), "chemicalType"},
		{"zero quantity", tx("C1", "Acetone", 0, models.TxSale), "quantity"},
		{"negative quantity", tx("C1", "Acetone", -3, models.TxSale), "quantity"},
		{"unknown type", tx("C1", "Acetone", 1, "smuggle"), "transactionType"},
		{"empty type", tx("C1", "Acetone", 1, ""), "transactionType"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLedger(t)
			_, err := l.AddTransaction(tc.tx)
			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field())
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Empty(t, l.Pending())
		})
	}
}

func TestSealedBlocksMeetDifficulty(t *testing.T) {
	l := newTestLedger(t, WithDifficulty(3))
	_, err := l.AddTransaction(tx("C1", "Toluene", 5, models.TxUsage))
	require.NoError(t, err)

	block, err := l.MinePendingTransactions(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "000", block.Hash[:3])

	recomputed, err := CalculateHash(block)
	require.NoError(t, err)
	assert.Equal(t, block.Hash, recomputed)
	assert.Equal(t, l.Tip().Hash, block.Hash)
}

func TestEmptyBlockIsSealed(t *testing.T) {
	l := newTestLedger(t)
	block, err := l.MinePendingTransactions(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, block.Transactions)
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.IsChainValid())
}

func TestGenesisIsDeterministic(t *testing.T) {
	a := newTestLedger(t)
	b := newTestLedger(t, WithDifficulty(4))
	ga, err := a.Block(0)
	require.NoError(t, err)
	gb, err := b.Block(0)
	require.NoError(t, err)
	assert.Equal(t, ga.Hash, gb.Hash)
	assert.Equal(t, GenesisPreviousHash, ga.PreviousHash)
	assert.Equal(t, GenesisMessage, ga.Message)
	assert.Equal(t, uint64(0), ga.Nonce)
}

func sealN(t *testing.T, l *Ledger, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.AddTransaction(tx("C1", "Acetone", int64(i+1), models.TxManufacture))
		require.NoError(t, err)
		_, err = l.MinePendingTransactions(context.Background(), nil)
		require.NoError(t, err)
	}
}

// forge rewrites block i's payload and recomputes its hash without searching
// for a nonce, the way an editor of a stored chain would.
func forge(t *testing.T, l *Ledger, i int) {
	t.Helper()
	b := &l.chain[i]
	b.Transactions = append(b.Transactions, tx("C9", "Ephedrine", 9999, models.TxSale))
	for qty := int64(9999); ; qty++ {
		b.Transactions[len(b.Transactions)-1].Quantity = decimal.NewFromInt(qty)
		hash, err := CalculateHash(b)
		require.NoError(t, err)
		if !MeetsDifficulty(hash, l.difficulty) {
			b.Hash = hash
			return
		}
	}
}

func TestTamperedHistoricalBlockDetected(t *testing.T) {
	l := newTestLedger(t)
	sealN(t, l, 3)
	require.True(t, l.IsChainValid())

	l.chain[1].Transactions[0].Quantity = decimal.NewFromInt(5000)
	err := l.VerifyChain()
	var ierr *apperr.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, int64(1), ierr.Index)

	forge(t, l, 1)
	err = l.VerifyChain()
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, int64(1), ierr.Index)
	assert.Contains(t, ierr.Reason, "difficulty")
	assert.False(t, l.IsChainValid())
}

func TestTamperedTipDetected(t *testing.T) {
	l := newTestLedger(t)
	sealN(t, l, 3)
	require.True(t, l.IsChainValid())

	forge(t, l, 3)
	recomputed, err := CalculateHash(&l.chain[3])
	require.NoError(t, err)
	require.Equal(t, recomputed, l.chain[3].Hash)

	err = l.VerifyChain()
	var ierr *apperr.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, int64(3), ierr.Index)
	assert.False(t, l.IsChainValid())
}

func TestRestoredForgedTipDetected(t *testing.T) {
	store := &MemoryStateStore{}
	l := newTestLedger(t)
	sealN(t, l, 2)
	forge(t, l, 2)
	require.NoError(t, Save(context.Background(), l, store))

	restored, err := Open(context.Background(), store, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Len())
	assert.False(t, restored.IsChainValid())
}

func TestBrokenLinkDetected(t *testing.T) {
	l := newTestLedger(t)
	sealN(t, l, 2)
	l.chain[2].PreviousHash = "deadbeef"
	assert.False(t, l.IsChainValid())
}

func TestTransactionHistoryOrderAndFilter(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.AddTransaction(tx("C1", "Acetone", 1, models.TxManufacture))
	require.NoError(t, err)
	_, err = l.AddTransaction(tx("C2", "Acetone", 2, models.TxManufacture))
	require.NoError(t, err)
	_, err = l.MinePendingTransactions(context.Background(), nil)
	require.NoError(t, err)
	_, err = l.AddTransaction(tx("C1", "Ephedrine", 3, models.TxSale))
	require.NoError(t, err)
	_, err = l.MinePendingTransactions(context.Background(), nil)
	require.NoError(t, err)
	_, err = l.AddTransaction(tx("C1", "Acetone", 4, models.TxUsage))
	require.NoError(t, err)

	history := l.TransactionHistory("C1")
	require.Len(t, history, 2, "pending transactions are not history")
	assert.True(t, history[0].Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, history[1].Quantity.Equal(decimal.NewFromInt(3)))
	for _, h := range history {
		assert.Equal(t, "C1", h.CompanyID)
	}
	assert.Empty(t, l.TransactionHistory("C9"))
}

func TestMineHonoursCancellation(t *testing.T) {
	l := newTestLedger(t, WithDifficulty(MaxDifficulty))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.MinePendingTransactions(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, l.Len())
}

func TestMineNonceCap(t *testing.T) {
	l := newTestLedger(t, WithDifficulty(MaxDifficulty), WithMaxNonce(100))
	_, err := l.AddTransaction(tx("C1", "Acetone", 1, models.TxManufacture))
	require.NoError(t, err)

	_, err = l.MinePendingTransactions(context.Background(), nil)
	require.ErrorIs(t, err, ErrNonceExhausted)
	assert.Equal(t, 1, l.Len())
	assert.Len(t, l.Pending(), 1, "failed seal keeps the pool")
}

func TestMineReportsProgress(t *testing.T) {
	l := newTestLedger(t, WithDifficulty(1))
	var last uint64
	block, err := l.MinePendingTransactions(context.Background(), func(attempts uint64) { last = attempts })
	require.NoError(t, err)
	assert.Equal(t, block.Nonce+1, last)
}

func TestInvalidDifficultyRejected(t *testing.T) {
	_, err := New(WithDifficulty(-1))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = New(WithDifficulty(MaxDifficulty + 1))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestTransactionTimestampStamped(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(t, WithClock(func() time.Time { return fixed }))
	in := tx("C1", "Acetone", 1, models.TxManufacture)
	in.Timestamp = 42
	_, err := l.AddTransaction(in)
	require.NoError(t, err)
	assert.Equal(t, fixed.UnixMilli(), l.Pending()[0].Timestamp)
}

func TestConcurrentSubmitAndSeal(t *testing.T) {
	l := newTestLedger(t, WithDifficulty(1))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := l.AddTransaction(tx("C1", "Acetone", 1, models.TxManufacture))
				assert.NoError(t, err)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.MinePendingTransactions(context.Background(), nil)
			assert.NoError(t, err)
			_ = l.TransactionHistory("C1")
		}()
	}
	wg.Wait()

	_, err := l.MinePendingTransactions(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, l.TransactionHistory("C1"), 80)
	assert.True(t, l.IsChainValid())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	store := &MemoryStateStore{}
	l := newTestLedger(t, WithDifficulty(1))
	sealN(t, l, 2)
	_, err := l.AddTransaction(tx("C2", "Acetone", 7, models.TxSale))
	require.NoError(t, err)
	require.NoError(t, Save(context.Background(), l, store))

	restored, err := Open(context.Background(), store, discardLogger(), WithDifficulty(3))
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Len())
	assert.Equal(t, 1, restored.Difficulty(), "saved difficulty wins")
	require.Len(t, restored.Pending(), 1)
	assert.True(t, restored.IsChainValid())
	assert.Equal(t, l.Tip().Hash, restored.Tip().Hash)
}

func TestOpenTreatsCorruptStateAsEmpty(t *testing.T) {
	for name, blob := range map[string]string{
		"garbage":     "{not json",
		"empty chain": `{"chain":[],"pendingTransactions":[],"difficulty":2}`,
		"no genesis":  `{"chain":[{"index":0,"previousHash":"abc"}],"difficulty":2}`,
		"difficulty":  `{"chain":[{"index":0,"previousHash":"0"}],"difficulty":99}`,
	} {
		t.Run(name, func(t *testing.T) {
			store := &MemoryStateStore{}
			require.NoError(t, store.SaveState(context.Background(), []byte(blob)))
			l, err := Open(context.Background(), store, discardLogger())
			require.NoError(t, err)
			assert.Equal(t, 1, l.Len())
			assert.Empty(t, l.Pending())
		})
	}
}

func TestRestoreRejectsCorruptBlobAtomically(t *testing.T) {
	l := newTestLedger(t, WithDifficulty(1))
	sealN(t, l, 1)
	err := l.Restore([]byte(`{"chain":[]}`))
	require.True(t, errors.Is(err, ErrCorruptState))
	assert.Equal(t, 2, l.Len())
}

func TestBlockLookup(t *testing.T) {
	l := newTestLedger(t, WithDifficulty(1))
	sealN(t, l, 1)
	b, err := l.Block(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Index)

	_, err = l.Block(5)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
