// Package orders enforces the purchase-order lifecycle of regulated chemicals
// and the security-token handshake that authorises a delivery.
//
//	pending --accept--> accepted --dispatch--> in_transit --delivery verified--> completed
//	pending --reject--> rejected
//	pending --cancel--> cancelled
//
// Every refused transition is reported as a typed failure from apperr; an
// order is never mutated by a failed call.
package orders

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"custodychain/internal/apperr"
	"custodychain/internal/metrics"
	"custodychain/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	// UpdateOrder writes order only if the stored version still equals
	// expectedVersion, and bumps order.Version on success. A lost race
	// returns apperr.ErrStaleVersion.
	UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error
	InsertTransport(ctx context.Context, transport *models.Transport) error
	GetTransport(ctx context.Context, transportID string) (*models.Transport, error)
	CompleteTransport(ctx context.Context, transportID string, at time.Time) error
	InsertAlert(ctx context.Context, alert *models.Alert) error
	ListAlerts(ctx context.Context, orderID string) ([]models.Alert, error)
}

// DispatchStore is implemented by stores that can write the dispatched order
// and its transport record in one transaction.
type DispatchStore interface {
	DispatchOrder(ctx context.Context, order *models.Order, expectedVersion int64, transport *models.Transport) error
}

// Submitter receives the custody transactions produced by completed deliveries.
type Submitter interface {
	Submit(ctx context.Context, tx models.Transaction) (models.BlockRef, error)
}

type EventKind string

const (
	EventAccept   EventKind = "accept"
	EventReject   EventKind = "reject"
	EventCancel   EventKind = "cancel"
	EventDispatch EventKind = "dispatch"
	EventDeliver  EventKind = "deliver"
)

var knownEvents = []EventKind{EventAccept, EventReject, EventCancel, EventDispatch, EventDeliver}

var transitions = map[models.OrderStatus]map[EventKind]models.OrderStatus{
	models.StatusPending: {
		EventAccept: models.StatusAccepted,
		EventReject: models.StatusRejected,
		EventCancel: models.StatusCancelled,
	},
	models.StatusAccepted: {
		EventDispatch: models.StatusInTransit,
	},
}

type Actor struct {
	CompanyID string `json:"companyId"`
}

type TransportDetails struct {
	VehicleNumber string    `json:"vehicleNumber"`
	DriverName    string    `json:"driverName"`
	DriverContact string    `json:"driverContact"`
	RouteDetails  string    `json:"routeDetails"`
	StartTime     time.Time `json:"startTime"`
}

type Event struct {
	Kind      EventKind         `json:"event"`
	Transport *TransportDetails `json:"transport,omitempty"`
}

type NewOrder struct {
	BuyerID         string          `json:"buyerId"`
	SellerID        string          `json:"sellerId"`
	ChemicalType    string          `json:"chemicalType"`
	Quantity        decimal.Decimal `json:"quantity"`
	Unit            string          `json:"unit"`
	Purpose         string          `json:"purpose"`
	DeliveryAddress string          `json:"deliveryAddress"`
}

type Service struct {
	store     Store
	random    io.Reader
	now       func() time.Time
	submitter Submitter
	log       *slog.Logger
	locks     *keyedMutex
}

type Option func(*Service)

// WithRandom sets the byte source for security tokens.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithSubmitter(sub Submitter) Option {
	return func(s *Service) { s.submitter = sub }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		random: rand.Reader,
		now:    time.Now,
		log:    slog.Default(),
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateOrder(ctx context.Context, in NewOrder) (*models.Order, error) {
	switch {
	case in.BuyerID == "":
		return nil, apperr.Validation("buyerId", "is required")
	case in.ChemicalType == "":
		return nil, apperr.Validation("chemicalType", "is required")
	case !in.Quantity.IsPositive():
		return nil, apperr.Validation("quantity", "must be greater than zero")
	case in.Unit == "":
		return nil, apperr.Validation("unit", "is required")
	case in.SellerID != "" && in.SellerID == in.BuyerID:
		return nil, apperr.Validation("sellerId", "buyer cannot order from itself")
	}

	now := s.now().UTC()
	order := &models.Order{
		OrderID:         uuid.NewString(),
		BuyerID:         in.BuyerID,
		SellerID:        in.SellerID,
		ChemicalType:    in.ChemicalType,
		Quantity:        in.Quantity,
		Unit:            in.Unit,
		Purpose:         in.Purpose,
		DeliveryAddress: in.DeliveryAddress,
		Status:          models.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	s.log.Info("order created", slog.String("order_id", order.OrderID), slog.String("buyer_id", order.BuyerID))
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

func (s *Service) GetTransport(ctx context.Context, transportID string) (*models.Transport, error) {
	return s.store.GetTransport(ctx, transportID)
}

// ListAlerts returns the verification alerts raised against an existing order.
func (s *Service) ListAlerts(ctx context.Context, orderID string) ([]models.Alert, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	alerts, err := s.store.ListAlerts(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for order %s: %w", orderID, err)
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return alerts, nil
}

// Transition applies a buyer or seller event to an order. Delivery is not an
// event here: it completes only through ConfirmDelivery or VerifyDelivery.
func (s *Service) Transition(ctx context.Context, orderID string, ev Event, actor Actor) (*models.Order, error) {
	if !slices.Contains(knownEvents, ev.Kind) {
		metrics.OrderTransitions.WithLabelValues("unknown", string(apperr.KindValidation)).Inc()
		return nil, apperr.Validation("event", fmt.Sprintf("must be one of %v", knownEvents))
	}
	order, err := s.transition(ctx, orderID, ev, actor)
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	metrics.OrderTransitions.WithLabelValues(string(ev.Kind), result).Inc()
	return order, err
}

func (s *Service) transition(ctx context.Context, orderID string, ev Event, actor Actor) (*models.Order, error) {
	if actor.CompanyID == "" {
		return nil, apperr.Validation("actor", "is required")
	}
	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	to, ok := transitions[order.Status][ev.Kind]
	if !ok {
		reason := ""
		if ev.Kind == EventDeliver {
			reason = "delivery completes only through token verification"
		}
		return nil, &apperr.TransitionError{OrderID: orderID, From: string(order.Status), Event: string(ev.Kind), Reason: reason}
	}
	if reason := actorGuard(order, ev.Kind, actor); reason != "" {
		return nil, &apperr.TransitionError{OrderID: orderID, From: string(order.Status), Event: string(ev.Kind), Reason: reason}
	}

	next := *order
	now := s.now().UTC()
	var transport *models.Transport
	switch ev.Kind {
	case EventAccept:
		next.SellerID = actor.CompanyID
		if err := s.issueToken(&next); err != nil {
			return nil, err
		}
	case EventDispatch:
		transport, err = s.newTransport(&next, ev.Transport, now)
		if err != nil {
			return nil, err
		}
		next.TransportID = transport.TransportID
	}
	next.Status = to
	next.UpdatedAt = now

	if transport != nil {
		err = s.dispatch(ctx, order, &next, transport)
	} else {
		err = s.store.UpdateOrder(ctx, &next, order.Version)
	}
	if err != nil {
		if errors.Is(err, apperr.ErrStaleVersion) {
			return nil, &apperr.TransitionError{OrderID: orderID, From: string(order.Status), Event: string(ev.Kind), Reason: "order was modified concurrently"}
		}
		return nil, fmt.Errorf("failed to update order %s: %w", orderID, err)
	}
	s.log.Info("order transitioned",
		slog.String("order_id", orderID),
		slog.String("event", string(ev.Kind)),
		slog.String("from", string(order.Status)),
		slog.String("to", string(to)),
		slog.String("actor", actor.CompanyID))
	return &next, nil
}

// dispatch commits the in_transit order together with its transport record.
// Stores without an atomic write get the order update first and the
// transport second; a failed transport insert restores the previous order.
func (s *Service) dispatch(ctx context.Context, prev, next *models.Order, transport *models.Transport) error {
	if ds, ok := s.store.(DispatchStore); ok {
		return ds.DispatchOrder(ctx, next, prev.Version, transport)
	}
	if err := s.store.UpdateOrder(ctx, next, prev.Version); err != nil {
		return err
	}
	if err := s.store.InsertTransport(ctx, transport); err != nil {
		restore := *prev
		if rerr := s.store.UpdateOrder(ctx, &restore, next.Version); rerr != nil {
			s.log.Error("failed to roll back dispatch",
				slog.String("order_id", prev.OrderID), slog.String("error", rerr.Error()))
		}
		return fmt.Errorf("failed to insert transport for order %s: %w", prev.OrderID, err)
	}
	return nil
}

func actorGuard(order *models.Order, kind EventKind, actor Actor) string {
	switch kind {
	case EventAccept, EventReject:
		if actor.CompanyID == order.BuyerID {
			return "buyer cannot act as seller on its own order"
		}
		if order.SellerID != "" && actor.CompanyID != order.SellerID {
			return "order is addressed to another seller"
		}
	case EventCancel:
		if actor.CompanyID != order.BuyerID {
			return "only the buyer may cancel"
		}
	case EventDispatch:
		if actor.CompanyID != order.SellerID {
			return "only the seller may dispatch"
		}
	}
	return ""
}

func (s *Service) newTransport(order *models.Order, d *TransportDetails, now time.Time) (*models.Transport, error) {
	if d == nil {
		return nil, apperr.Validation("transport", "is required to dispatch")
	}
	if d.VehicleNumber == "" {
		return nil, apperr.Validation("transport.vehicleNumber", "is required")
	}
	if d.DriverName == "" {
		return nil, apperr.Validation("transport.driverName", "is required")
	}
	start := d.StartTime
	if start.IsZero() {
		start = now
	}
	return &models.Transport{
		TransportID:   uuid.NewString(),
		OrderID:       order.OrderID,
		VehicleNumber: d.VehicleNumber,
		DriverName:    d.DriverName,
		DriverContact: d.DriverContact,
		RouteDetails:  d.RouteDetails,
		Status:        models.TransportInTransit,
		StartTime:     start.UTC(),
	}, nil
}
