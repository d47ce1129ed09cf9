package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"custodychain/pkg/models"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	GenesisPreviousHash = "0"
	GenesisMessage      = "Genesis Block"
	// 2024-01-01T00:00:00Z, fixed so every instance derives the same genesis hash.
	GenesisTimestamp int64 = 1704067200000

	MaxDifficulty = 64

	progressInterval = 1 << 14
)

var ErrNonceExhausted = errors.New("nonce search exhausted")

type ProgressFunc func(attempts uint64)

func serializePayload(b *models.Block) ([]byte, error) {
	if b.Message != "" {
		return json.Marshal(map[string]string{"message": b.Message})
	}
	txs := b.Transactions
	if txs == nil {
		txs = []models.Transaction{}
	}
	return json.Marshal(txs)
}

func hashPrefix(b *models.Block) ([]byte, error) {
	payload, err := serializePayload(b)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize block %d payload: %w", b.Index, err)
	}
	buf := make([]byte, 0, len(b.PreviousHash)+len(payload)+20)
	buf = append(buf, b.PreviousHash...)
	buf = strconv.AppendInt(buf, b.Timestamp, 10)
	buf = append(buf, payload...)
	return buf, nil
}

func hashWithNonce(prefix []byte, nonce uint64, scratch []byte) string {
	scratch = append(scratch[:0], prefix...)
	scratch = strconv.AppendUint(scratch, nonce, 10)
	return hex.EncodeToString(chainhash.HashB(scratch))
}

// CalculateHash returns hex(SHA-256(previousHash ‖ timestamp ‖ payload ‖ nonce)).
func CalculateHash(b *models.Block) (string, error) {
	prefix, err := hashPrefix(b)
	if err != nil {
		return "", err
	}
	return hashWithNonce(prefix, b.Nonce, nil), nil
}

func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

func genesisBlock() models.Block {
	b := models.Block{
		Index:        0,
		Timestamp:    GenesisTimestamp,
		Transactions: []models.Transaction{},
		Message:      GenesisMessage,
		PreviousHash: GenesisPreviousHash,
	}
	b.Hash, _ = CalculateHash(&b)
	return b
}

// mine searches nonces from zero until the block hash satisfies difficulty.
// maxNonce of zero means unbounded.
func mine(ctx context.Context, b *models.Block, difficulty int, maxNonce uint64, progress ProgressFunc) (uint64, error) {
	prefix, err := hashPrefix(b)
	if err != nil {
		return 0, err
	}
	scratch := make([]byte, 0, len(prefix)+20)
	for nonce := uint64(0); ; nonce++ {
		if nonce%progressInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nonce, fmt.Errorf("sealing block %d aborted after %d attempts: %w", b.Index, nonce, err)
			}
			if progress != nil && nonce > 0 {
				progress(nonce)
			}
		}
		if maxNonce > 0 && nonce > maxNonce {
			return nonce, fmt.Errorf("block %d at difficulty %d: %w (cap %d)", b.Index, difficulty, ErrNonceExhausted, maxNonce)
		}
		hash := hashWithNonce(prefix, nonce, scratch)
		if MeetsDifficulty(hash, difficulty) {
			b.Nonce = nonce
			b.Hash = hash
			if progress != nil {
				progress(nonce + 1)
			}
			return nonce + 1, nil
		}
	}
}
