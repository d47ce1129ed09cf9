package models

import "github.com/shopspring/decimal"

const (
	TxManufacture = "manufacture"
	TxSale        = "sale"
	TxPurchase    = "purchase"
	TxUsage       = "usage"
)

var TransactionTypes = []string{TxManufacture, TxSale, TxPurchase, TxUsage}

type Transaction struct {
	CompanyID       string          `json:"companyId"`
	ChemicalType    string          `json:"chemicalType"`
	Quantity        decimal.Decimal `json:"quantity"`
	TransactionType string          `json:"transactionType"`
	Timestamp       int64           `json:"timestamp"`
}

// Block timestamps are unix milliseconds so the hash input stays stable
// across JSON and database round-trips.
type Block struct {
	Index        int64         `json:"index"`
	Timestamp    int64         `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	Message      string        `json:"message,omitempty"`
	PreviousHash string        `json:"previousHash"`
	Hash         string        `json:"hash"`
	Nonce        uint64        `json:"nonce"`
}

func (b *Block) IsGenesis() bool {
	return b.Index == 0
}

type BlockRef struct {
	BlockIndex int64 `json:"blockIndex"`
	Position   int   `json:"position"`
	Pending    bool  `json:"pending"`
}
