package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAccepted  OrderStatus = "accepted"
	StatusRejected  OrderStatus = "rejected"
	StatusInTransit OrderStatus = "in_transit"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

type Order struct {
	OrderID           string          `json:"orderId"`
	BuyerID           string          `json:"buyerId"`
	SellerID          string          `json:"sellerId,omitempty"`
	ChemicalType      string          `json:"chemicalType"`
	Quantity          decimal.Decimal `json:"quantity"`
	Unit              string          `json:"unit"`
	Purpose           string          `json:"purpose,omitempty"`
	DeliveryAddress   string          `json:"deliveryAddress,omitempty"`
	Status            OrderStatus     `json:"status"`
	SecurityToken     string          `json:"securityToken,omitempty"`
	TokenTimestamp    *time.Time      `json:"tokenTimestamp,omitempty"`
	TransportID       string          `json:"transportId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	DeliveryTimestamp *time.Time      `json:"deliveryTimestamp,omitempty"`
	DeliveryRemarks   string          `json:"deliveryRemarks,omitempty"`
	Version           int64           `json:"version"`
}

const (
	TransportInTransit = "in_transit"
	TransportDelivered = "delivered"
)

type Transport struct {
	TransportID   string     `json:"transportId"`
	OrderID       string     `json:"orderId"`
	VehicleNumber string     `json:"vehicleNumber"`
	DriverName    string     `json:"driverName"`
	DriverContact string     `json:"driverContact"`
	RouteDetails  string     `json:"routeDetails,omitempty"`
	Status        string     `json:"status"`
	StartTime     time.Time  `json:"startTime"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

const (
	AlertDeliveryVerification = "delivery_verification_failed"
	AlertStatusActive         = "active"
)

type Alert struct {
	AlertID     string    `json:"alertId"`
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId,omitempty"`
	TransportID string    `json:"transportId,omitempty"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}
