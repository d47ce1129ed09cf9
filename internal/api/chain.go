package api

import (
	"net/http"
	"strconv"

	"custodychain/internal/apperr"
	"custodychain/pkg/models"

	"github.com/gorilla/mux"
)

type verifyResponse struct {
	Valid  bool       `json:"valid"`
	Length int        `json:"length"`
	Error  *errorBody `json:"error,omitempty"`
}

type historyResponse struct {
	CompanyID    string               `json:"companyId"`
	Transactions []models.Transaction `json:"transactions"`
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"blocks":  s.ledger.Len(),
		"pending": len(s.ledger.Pending()),
	})
}

func (s *Server) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var tx models.Transaction
	if err := decodeJSON(w, r, &tx); err != nil {
		s.writeError(w, r, err)
		return
	}
	ref, err := s.miner.Submit(r.Context(), tx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, ref)
}

func (s *Server) listPending(w http.ResponseWriter, _ *http.Request) {
	pending := s.ledger.Pending()
	if pending == nil {
		pending = []models.Transaction{}
	}
	s.writeJSON(w, http.StatusOK, pending)
}

func (s *Server) sealBlock(w http.ResponseWriter, r *http.Request) {
	block, err := s.miner.Seal(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, block)
}

func (s *Server) listBlocks(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ledger.Blocks())
}

func (s *Server) getBlock(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["index"]
	index, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeError(w, r, &apperr.FormatError{Name: "index", Reason: "is not a block index"})
		return
	}
	block, err := s.ledger.Block(index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, block)
}

func (s *Server) verifyChain(w http.ResponseWriter, _ *http.Request) {
	resp := verifyResponse{Valid: true, Length: s.ledger.Len()}
	if err := s.ledger.VerifyChain(); err != nil {
		resp.Valid = false
		resp.Error = &errorBody{
			Kind:    string(apperr.KindOf(err)),
			Field:   apperr.FieldOf(err),
			Message: err.Error(),
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) companyHistory(w http.ResponseWriter, r *http.Request) {
	companyID := mux.Vars(r)["companyId"]
	txs := s.ledger.TransactionHistory(companyID)
	if txs == nil {
		txs = []models.Transaction{}
	}
	s.writeJSON(w, http.StatusOK, historyResponse{CompanyID: companyID, Transactions: txs})
}
