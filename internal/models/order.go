package models

import (
	"time"
)

// DeliveryStatus is the status of the delivery attached to an order
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusInProgress DeliveryStatus = "inprogress"
	DeliveryStatusDelivering DeliveryStatus = "delivering"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
)

// OrderLineItem is one (order, item) row of an order's contents.
// Quantity never goes below zero; rows that reach zero are deleted.
type OrderLineItem struct {
	OrderID  int      `json:"order_id"`
	ItemID   int      `json:"item_id"`
	Name     string   `json:"name"`
	Quantity float64  `json:"quantity"`
	Price    *float64 `json:"price,omitempty"`
}

// CandidateOrder is an order considered for matching against a receipt
type CandidateOrder struct {
	ID        int             `json:"id"`
	Status    string          `json:"status"`
	StoreID   *int            `json:"store_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Items     []OrderLineItem `json:"items"`
}

// RemovalRequest is a driver-issued "remove N of X" command
type RemovalRequest struct {
	Name     string  `json:"name" validate:"max=256"`
	Quantity float64 `json:"quantity"`
}

// RemoveItemsRequest is the request body for driver removals
type RemoveItemsRequest struct {
	Lines []RemovalRequest `json:"lines" validate:"max=200,dive"`
}
