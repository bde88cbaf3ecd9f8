package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an order is not in a status the
// requested transition may start from.
var ErrInvalidTransition = errors.New("invalid order status transition")

// OrderTransition is a named edge of the order state machine. Persistence
// applies it as a compare-and-set on the current status.
type OrderTransition struct {
	Name string
	From []OrderStatus
	To   OrderStatus
}

var (
	TransitionPaymentSucceeded = OrderTransition{
		Name: "payment_succeeded",
		From: []OrderStatus{StatusPendingPayment},
		To:   StatusProcessing,
	}
	TransitionShipped = OrderTransition{
		Name: "shipped",
		From: []OrderStatus{StatusProcessing},
		To:   StatusShipped,
	}
	TransitionDelivered = OrderTransition{
		Name: "delivered",
		From: []OrderStatus{StatusShipped},
		To:   StatusDelivered,
	}
	TransitionCancel = OrderTransition{
		Name: "cancel",
		From: []OrderStatus{StatusPendingPayment, StatusProcessing},
		To:   StatusCancelled,
	}
	TransitionRefund = OrderTransition{
		Name: "refund",
		From: []OrderStatus{StatusPendingPayment, StatusProcessing},
		To:   StatusRefunded,
	}
)

// Transitions lists every edge of the state machine.
var Transitions = []OrderTransition{
	TransitionPaymentSucceeded,
	TransitionShipped,
	TransitionDelivered,
	TransitionCancel,
	TransitionRefund,
}

func (t OrderTransition) Allows(from OrderStatus) bool {
	for _, status := range t.From {
		if status == from {
			return true
		}
	}
	return false
}

// Apply returns the target status or ErrInvalidTransition.
func (t OrderTransition) Apply(from OrderStatus) (OrderStatus, error) {
	if !t.Allows(from) {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t.Name, from)
	}
	return t.To, nil
}

// CanTransition reports whether any defined edge leads from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, t := range Transitions {
		if t.To == to && t.Allows(from) {
			return true
		}
	}
	return false
}

// StringStatuses converts statuses for SQL array parameters.
func StringStatuses[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
