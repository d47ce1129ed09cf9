package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"custodychain/pkg/models"
)

var ErrCorruptState = errors.New("corrupt ledger state")

// StateStore persists the ledger as a single opaque blob. LoadState returns
// a nil blob when nothing has been saved yet.
type StateStore interface {
	LoadState(ctx context.Context) ([]byte, error)
	SaveState(ctx context.Context, blob []byte) error
}

type state struct {
	Chain               []models.Block       `json:"chain"`
	PendingTransactions []models.Transaction `json:"pendingTransactions"`
	Difficulty          int                  `json:"difficulty"`
}

func (l *Ledger) Snapshot() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	blob, err := json.Marshal(state{
		Chain:               l.chain,
		PendingTransactions: l.pending,
		Difficulty:          l.difficulty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger state: %w", err)
	}
	return blob, nil
}

// Restore replaces chain, pending pool and difficulty with the decoded blob,
// all or nothing. It does not verify hashes: a tampered chain is restored as
// is and reported by VerifyChain.
func (l *Ledger) Restore(blob []byte) error {
	var s state
	if err := json.Unmarshal(blob, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if len(s.Chain) == 0 {
		return fmt.Errorf("%w: empty chain", ErrCorruptState)
	}
	genesis := s.Chain[0]
	if genesis.Index != 0 || genesis.PreviousHash != GenesisPreviousHash {
		return fmt.Errorf("%w: first block is not a genesis block", ErrCorruptState)
	}
	for i := range s.Chain {
		if s.Chain[i].Index != int64(i) {
			return fmt.Errorf("%w: block at position %d has index %d", ErrCorruptState, i, s.Chain[i].Index)
		}
	}
	if s.Difficulty < 0 || s.Difficulty > MaxDifficulty {
		return fmt.Errorf("%w: difficulty %d out of range", ErrCorruptState, s.Difficulty)
	}
	if s.PendingTransactions == nil {
		s.PendingTransactions = []models.Transaction{}
	}

	l.sealMu.Lock()
	defer l.sealMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chain = s.Chain
	l.pending = s.PendingTransactions
	l.difficulty = s.Difficulty
	return nil
}

// Open builds a ledger and restores the last saved state from store. A blob
// that cannot be decoded is logged and treated as no prior state.
func Open(ctx context.Context, store StateStore, log *slog.Logger, opts ...Option) (*Ledger, error) {
	l, err := New(opts...)
	if err != nil {
		return nil, err
	}
	blob, err := store.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger state: %w", err)
	}
	if len(blob) == 0 {
		log.Info("no saved ledger state, starting from genesis")
		return l, nil
	}
	configured := l.Difficulty()
	if err := l.Restore(blob); err != nil {
		log.Warn("discarding saved ledger state", slog.String("error", err.Error()))
		return l, nil
	}
	if d := l.Difficulty(); d != configured {
		log.Info("using saved difficulty", slog.Int("saved", d), slog.Int("configured", configured))
	}
	log.Info("ledger state restored",
		slog.Int("blocks", l.Len()),
		slog.Int("pending", len(l.Pending())))
	return l, nil
}

func Save(ctx context.Context, l *Ledger, store StateStore) error {
	blob, err := l.Snapshot()
	if err != nil {
		return err
	}
	if err := store.SaveState(ctx, blob); err != nil {
		return fmt.Errorf("failed to save ledger state: %w", err)
	}
	return nil
}

// MemoryStateStore keeps the blob in process memory.
type MemoryStateStore struct {
	mu   sync.Mutex
	blob []byte
}

func (m *MemoryStateStore) LoadState(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blob, nil
}

func (m *MemoryStateStore) SaveState(ctx context.Context, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = append([]byte(nil), blob...)
	return nil
}
