package domain

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusCanceled OrderStatus = "canceled"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCanceled
}

func (s OrderStatus) Valid() bool {
	return s == OrderStatusPending || s.IsTerminal()
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// Transition decides what a confirmation signal asking for `to` does to an
// order currently in `from`. changed reports whether the stored status must be
// updated. A signal repeating the current terminal status is a no-op; a signal
// contradicting it is ErrInconsistentStatusTransition.
func Transition(from, to OrderStatus) (changed bool, err error) {
	if !to.IsTerminal() {
		return false, ErrInvalidStatus
	}
	switch {
	case from == OrderStatusPending:
		return true, nil
	case from == to:
		return false, nil
	case from.IsTerminal():
		return false, ErrInconsistentStatusTransition
	default:
		return false, ErrInvalidStatus
	}
}

// StatusMessage is the fixed human readable text shown to the buyer for a status.
func StatusMessage(orderID string, s OrderStatus) string {
	switch s {
	case OrderStatusPaid:
		return "Order " + orderID + " has been paid and is being prepared"
	case OrderStatusCanceled:
		return "Order " + orderID + " was canceled, the payment did not go through"
	default:
		return "Order " + orderID + " is awaiting payment"
	}
}
