// Package ledger keeps the tamper-evident chain of chemical transactions.
//
// A Ledger has exactly one writer at a time: transactions accumulate in a
// pending pool and are sealed into proof-of-work blocks by
// MinePendingTransactions. Reads run concurrently and always observe a
// fully appended chain.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"custodychain/internal/apperr"
	"custodychain/pkg/models"
)

const DefaultDifficulty = 2

type Ledger struct {
	mu         sync.RWMutex
	sealMu     sync.Mutex
	chain      []models.Block
	pending    []models.Transaction
	difficulty int
	maxNonce   uint64
	now        func() time.Time
}

type Option func(*Ledger)

func WithDifficulty(d int) Option {
	return func(l *Ledger) { l.difficulty = d }
}

// WithMaxNonce caps the nonce search so a seal cannot run unbounded.
func WithMaxNonce(n uint64) Option {
	return func(l *Ledger) { l.maxNonce = n }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(opts ...Option) (*Ledger, error) {
	l := &Ledger{
		chain:      []models.Block{genesisBlock()},
		pending:    []models.Transaction{},
		difficulty: DefaultDifficulty,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.difficulty < 0 || l.difficulty > MaxDifficulty {
		return nil, apperr.Validation("difficulty", fmt.Sprintf("must be between 0 and %d, got %d", MaxDifficulty, l.difficulty))
	}
	return l, nil
}

func ValidateTransaction(tx models.Transaction) error {
	if tx.CompanyID == "" {
		return apperr.Validation("companyId", "is required")
	}
	if tx.ChemicalType == "" {
		return apperr.Validation("chemicalType", "is required")
	}
	if !tx.Quantity.IsPositive() {
		return apperr.Validation("quantity", "must be greater than zero")
	}
	if !slices.Contains(models.TransactionTypes, tx.TransactionType) {
		return apperr.Validation("transactionType", fmt.Sprintf("must be one of %v", models.TransactionTypes))
	}
	return nil
}

// AddTransaction validates tx, stamps it and appends it to the pending pool.
// The returned reference names the block the transaction will be sealed into.
func (l *Ledger) AddTransaction(tx models.Transaction) (models.BlockRef, error) {
	if err := ValidateTransaction(tx); err != nil {
		return models.BlockRef{}, err
	}
	tx.Timestamp = l.now().UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, tx)
	return models.BlockRef{
		BlockIndex: l.chain[len(l.chain)-1].Index + 1,
		Position:   len(l.pending) - 1,
		Pending:    true,
	}, nil
}

// MinePendingTransactions seals the current pending pool into a new block.
// An empty pool yields an empty block. The search runs without holding the
// read lock; transactions submitted meanwhile stay pending for the next seal.
func (l *Ledger) MinePendingTransactions(ctx context.Context, progress ProgressFunc) (*models.Block, error) {
	l.sealMu.Lock()
	defer l.sealMu.Unlock()

	l.mu.RLock()
	tip := l.chain[len(l.chain)-1]
	batch := slices.Clone(l.pending)
	difficulty := l.difficulty
	l.mu.RUnlock()

	if batch == nil {
		batch = []models.Transaction{}
	}
	block := models.Block{
		Index:        tip.Index + 1,
		Timestamp:    l.now().UnixMilli(),
		Transactions: batch,
		PreviousHash: tip.Hash,
	}
	if _, err := mine(ctx, &block, difficulty, l.maxNonce, progress); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.chain = append(l.chain, block)
	l.pending = slices.Clone(l.pending[len(batch):])
	l.mu.Unlock()

	return cloneBlock(block), nil
}

// VerifyChain walks blocks 1..tip and reports the first block whose stored
// hash differs from its recomputed hash, misses the difficulty target, or
// whose link to its predecessor is broken.
func (l *Ledger) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verify(l.chain, l.difficulty)
}

func (l *Ledger) IsChainValid() bool {
	return l.VerifyChain() == nil
}

func verify(chain []models.Block, difficulty int) error {
	for i := 1; i < len(chain); i++ {
		current, previous := &chain[i], &chain[i-1]
		hash, err := CalculateHash(current)
		if err != nil {
			return &apperr.IntegrityError{Index: current.Index, Reason: err.Error()}
		}
		if current.Hash != hash {
			return &apperr.IntegrityError{Index: current.Index, Reason: "stored hash does not match block contents"}
		}
		if !MeetsDifficulty(current.Hash, difficulty) {
			return &apperr.IntegrityError{Index: current.Index, Reason: fmt.Sprintf("hash does not meet difficulty %d", difficulty)}
		}
		if current.PreviousHash != previous.Hash {
			return &apperr.IntegrityError{Index: current.Index, Reason: "previous hash does not match preceding block"}
		}
	}
	return nil
}

// TransactionHistory returns every sealed transaction of companyID, oldest first.
func (l *Ledger) TransactionHistory(companyID string) []models.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	history := []models.Transaction{}
	for _, b := range l.chain {
		for _, tx := range b.Transactions {
			if tx.CompanyID == companyID {
				history = append(history, tx)
			}
		}
	}
	return history
}

func (l *Ledger) Blocks() []models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Block, len(l.chain))
	for i, b := range l.chain {
		out[i] = *cloneBlock(b)
	}
	return out
}

func (l *Ledger) Block(index int64) (*models.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= int64(len(l.chain)) {
		return nil, apperr.NotFound("block", strconv.FormatInt(index, 10))
	}
	return cloneBlock(l.chain[index]), nil
}

func (l *Ledger) Tip() models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return *cloneBlock(l.chain[len(l.chain)-1])
}

func (l *Ledger) Pending() []models.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.pending)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

func (l *Ledger) Difficulty() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.difficulty
}

func cloneBlock(b models.Block) *models.Block {
	b.Transactions = slices.Clone(b.Transactions)
	if b.Transactions == nil {
		b.Transactions = []models.Transaction{}
	}
	return &b
}
