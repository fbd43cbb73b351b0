package service

import (
	"errors"
	"fmt"

	"github.com/fjod/go_cart/store-service/internal/domain"
)

var ErrInvalidPagination = errors.New("page must be at least 1 and page_size between 1 and 100")

// PaymentInitiationError means the order was created and its stock reserved,
// but no payment could be started for it. The order stays pending and can be
// paid later through RetryPayment.
type PaymentInitiationError struct {
	Order *domain.Order
	Err   error
}

func (e *PaymentInitiationError) Error() string {
	return fmt.Sprintf("order %s created, payment initiation failed: %v", e.Order.ID, e.Err)
}

func (e *PaymentInitiationError) Unwrap() error { return e.Err }
