package orders

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"custodychain/internal/apperr"
	"custodychain/internal/metrics"
	"custodychain/pkg/models"

	"github.com/google/uuid"
)

const (
	TokenTTL   = 24 * time.Hour
	tokenBytes = 16

	// IssuedAtLayout renders token timestamps the way the scannable code
	// carries them: UTC with millisecond precision.
	IssuedAtLayout = "2006-01-02T15:04:05.000Z07:00"
)

// DeliveryClaim is the decoded content of a scanned delivery code.
type DeliveryClaim struct {
	OrderID  string
	Token    string
	IssuedAt time.Time
}

// DeliveryTicket records a successful scan. The manual confirmation step is
// checked against the token captured here, not against a fresh scan.
type DeliveryTicket struct {
	OrderID   string    `json:"orderId"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ScannedAt time.Time `json:"scannedAt"`
}

func FormatDeliveryCode(orderID, token string, issuedAt time.Time) string {
	return orderID + "|" + token + "|" + issuedAt.UTC().Format(IssuedAtLayout)
}

func ParseDeliveryCode(code string) (DeliveryClaim, error) {
	parts := strings.Split(code, "|")
	if len(parts) != 3 {
		return DeliveryClaim{}, &apperr.FormatError{Name: "code", Reason: fmt.Sprintf("expected 3 fields orderId|token|issuedAt, got %d", len(parts))}
	}
	return newClaim(parts[0], parts[1], parts[2])
}

func newClaim(orderID, token, issuedAt string) (DeliveryClaim, error) {
	orderID, token, issuedAt = strings.TrimSpace(orderID), strings.TrimSpace(token), strings.TrimSpace(issuedAt)
	for _, f := range []struct{ name, value string }{
		{"orderId", orderID}, {"token", token}, {"issuedAt", issuedAt},
	} {
		if f.value == "" {
			return DeliveryClaim{}, &apperr.FormatError{Name: f.name, Reason: "is empty"}
		}
	}
	at, err := time.Parse(time.RFC3339Nano, issuedAt)
	if err != nil {
		return DeliveryClaim{}, &apperr.FormatError{Name: "issuedAt", Reason: "is not an ISO-8601 timestamp"}
	}
	return DeliveryClaim{OrderID: orderID, Token: token, IssuedAt: at}, nil
}

func (s *Service) issueToken(order *models.Order) error {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, b); err != nil {
		return fmt.Errorf("failed to generate security token: %w", err)
	}
	issued := s.now().UTC().Truncate(time.Millisecond)
	order.SecurityToken = strings.ToUpper(hex.EncodeToString(b))
	order.TokenTimestamp = &issued
	return nil
}

// ReissueToken replaces the order's security token; the previous token stops
// verifying immediately.
func (s *Service) ReissueToken(ctx context.Context, orderID string, actor Actor) (*models.Order, error) {
	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusAccepted && order.Status != models.StatusInTransit {
		return nil, &apperr.TransitionError{OrderID: orderID, From: string(order.Status), Event: "reissue_token"}
	}
	if actor.CompanyID == "" || actor.CompanyID != order.SellerID {
		return nil, &apperr.TransitionError{OrderID: orderID, From: string(order.Status), Event: "reissue_token", Reason: "only the seller may reissue"}
	}
	next := *order
	if err := s.issueToken(&next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateOrder(ctx, &next, order.Version); err != nil {
		if errors.Is(err, apperr.ErrStaleVersion) {
			return nil, &apperr.TransitionError{OrderID: orderID, From: string(order.Status), Event: "reissue_token", Reason: "order was modified concurrently"}
		}
		return nil, fmt.Errorf("failed to update order %s: %w", orderID, err)
	}
	s.log.Info("security token reissued", slog.String("order_id", orderID))
	return &next, nil
}

// DeliveryCode returns the scannable payload for the order's current token.
func (s *Service) DeliveryCode(ctx context.Context, orderID string) (string, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.SecurityToken == "" || order.TokenTimestamp == nil {
		return "", apperr.NotFound("security token", orderID)
	}
	return FormatDeliveryCode(order.OrderID, order.SecurityToken, *order.TokenTimestamp), nil
}

// ScanDelivery checks a scanned code without changing the order: format,
// expiry, order existence and token equality, in that order.
func (s *Service) ScanDelivery(ctx context.Context, code string) (*DeliveryTicket, error) {
	claim, err := ParseDeliveryCode(code)
	if err != nil {
		s.observe("scan", err)
		return nil, err
	}
	ticket, err := s.scan(ctx, claim)
	s.observe("scan", err)
	return ticket, err
}

func (s *Service) scan(ctx context.Context, claim DeliveryClaim) (*DeliveryTicket, error) {
	now := s.now()
	if err := checkExpiry(claim.OrderID, claim.IssuedAt, now); err != nil {
		s.raiseAlert(ctx, claim.OrderID, "", err)
		return nil, err
	}
	order, err := s.store.GetOrder(ctx, claim.OrderID)
	if err != nil {
		return nil, err
	}
	if err := checkDeliverable(order, claim.Token, claim.IssuedAt); err != nil {
		if kind := apperr.KindOf(err); kind == apperr.KindTokenMismatch {
			s.raiseAlert(ctx, order.OrderID, order.TransportID, err)
		}
		return nil, err
	}
	return &DeliveryTicket{
		OrderID:   order.OrderID,
		Token:     claim.Token,
		IssuedAt:  claim.IssuedAt,
		ScannedAt: now.UTC(),
	}, nil
}

// ConfirmDelivery commits in_transit -> completed once the manually entered
// token independently passes the expiry and equality checks against the
// ticket captured at scan time.
func (s *Service) ConfirmDelivery(ctx context.Context, ticket *DeliveryTicket, enteredToken, remarks string) (*models.Order, error) {
	order, err := s.confirm(ctx, ticket, enteredToken, remarks)
	s.observe("confirm", err)
	return order, err
}

func (s *Service) confirm(ctx context.Context, ticket *DeliveryTicket, enteredToken, remarks string) (*models.Order, error) {
	if ticket == nil || ticket.OrderID == "" || ticket.Token == "" || ticket.IssuedAt.IsZero() {
		return nil, &apperr.FormatError{Name: "ticket", Reason: "scan the delivery code first"}
	}
	now := s.now()
	if err := checkExpiry(ticket.OrderID, ticket.IssuedAt, now); err != nil {
		s.raiseAlert(ctx, ticket.OrderID, "", err)
		return nil, err
	}
	if !tokensEqual(strings.TrimSpace(enteredToken), ticket.Token) {
		err := &apperr.TokenMismatchError{OrderID: ticket.OrderID, Name: "token"}
		s.raiseAlert(ctx, ticket.OrderID, "", err)
		return nil, err
	}

	unlock := s.locks.lock(ticket.OrderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, ticket.OrderID)
	if err != nil {
		return nil, err
	}
	if err := checkDeliverable(order, ticket.Token, ticket.IssuedAt); err != nil {
		if apperr.KindOf(err) == apperr.KindTokenMismatch {
			s.raiseAlert(ctx, order.OrderID, order.TransportID, err)
		}
		return nil, err
	}

	next := *order
	delivered := now.UTC()
	next.Status = models.StatusCompleted
	next.DeliveryTimestamp = &delivered
	next.DeliveryRemarks = remarks
	next.UpdatedAt = delivered
	if err := s.store.UpdateOrder(ctx, &next, order.Version); err != nil {
		if errors.Is(err, apperr.ErrStaleVersion) {
			return nil, &apperr.TransitionError{OrderID: order.OrderID, From: string(order.Status), Event: string(EventDeliver), Reason: "order was modified concurrently"}
		}
		return nil, fmt.Errorf("failed to update order %s: %w", order.OrderID, err)
	}
	s.log.Info("delivery verified", slog.String("order_id", next.OrderID), slog.String("transport_id", next.TransportID))

	if next.TransportID != "" {
		if err := s.store.CompleteTransport(ctx, next.TransportID, delivered); err != nil {
			s.log.Error("failed to mark transport delivered",
				slog.String("transport_id", next.TransportID), slog.String("error", err.Error()))
		}
	}
	s.recordCustody(ctx, &next)
	return &next, nil
}

// VerifyDelivery runs scan and confirmation in one call with the presented
// triple.
func (s *Service) VerifyDelivery(ctx context.Context, orderID, token, issuedAt, remarks string) (*models.Order, error) {
	claim, err := newClaim(orderID, token, issuedAt)
	if err != nil {
		s.observe("scan", err)
		return nil, err
	}
	ticket, err := s.scan(ctx, claim)
	s.observe("scan", err)
	if err != nil {
		return nil, err
	}
	return s.ConfirmDelivery(ctx, ticket, claim.Token, remarks)
}

func checkExpiry(orderID string, issuedAt, now time.Time) error {
	if age := now.Sub(issuedAt); age > TokenTTL {
		return &apperr.TokenExpiredError{OrderID: orderID, IssuedAt: issuedAt, Age: age}
	}
	return nil
}

func checkDeliverable(order *models.Order, token string, issuedAt time.Time) error {
	if order.Status == models.StatusCompleted {
		return &apperr.AlreadyCompletedError{OrderID: order.OrderID}
	}
	if order.SecurityToken == "" || !tokensEqual(order.SecurityToken, token) {
		return &apperr.TokenMismatchError{OrderID: order.OrderID, Name: "token"}
	}
	if order.TokenTimestamp == nil || !order.TokenTimestamp.Equal(issuedAt) {
		return &apperr.TokenMismatchError{OrderID: order.OrderID, Name: "issuedAt"}
	}
	if order.Status != models.StatusInTransit {
		return &apperr.TransitionError{OrderID: order.OrderID, From: string(order.Status), Event: string(EventDeliver)}
	}
	return nil
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Service) raiseAlert(ctx context.Context, orderID, transportID string, cause error) {
	alert := &models.Alert{
		AlertID:     uuid.NewString(),
		Type:        models.AlertDeliveryVerification,
		OrderID:     orderID,
		TransportID: transportID,
		Description: cause.Error(),
		Status:      models.AlertStatusActive,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertAlert(ctx, alert); err != nil {
		s.log.Error("failed to record alert", slog.String("order_id", orderID), slog.String("error", err.Error()))
		return
	}
	s.log.Warn("delivery verification failed",
		slog.String("order_id", orderID),
		slog.String("kind", string(apperr.KindOf(cause))),
		slog.String("alert_id", alert.AlertID))
}

// recordCustody appends the sale and purchase legs of a completed delivery
// to the ledger's pending pool.
func (s *Service) recordCustody(ctx context.Context, order *models.Order) {
	if s.submitter == nil {
		return
	}
	legs := []models.Transaction{
		{CompanyID: order.SellerID, ChemicalType: order.ChemicalType, Quantity: order.Quantity, TransactionType: models.TxSale},
		{CompanyID: order.BuyerID, ChemicalType: order.ChemicalType, Quantity: order.Quantity, TransactionType: models.TxPurchase},
	}
	for _, tx := range legs {
		if _, err := s.submitter.Submit(ctx, tx); err != nil {
			s.log.Error("failed to record custody transaction",
				slog.String("order_id", order.OrderID),
				slog.String("company_id", tx.CompanyID),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Service) observe(step string, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	metrics.DeliveryVerifications.WithLabelValues(step, result).Inc()
}
