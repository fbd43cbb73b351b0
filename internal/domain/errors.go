package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart                    = errors.New("cart is empty, nothing to checkout")
	ErrProductUnavailable           = errors.New("product is unavailable")
	ErrProductNotPriced             = errors.New("product has no price set")
	ErrInsufficientStock            = errors.New("insufficient stock")
	ErrGatewayMisconfigured         = errors.New("payment gateway is not configured")
	ErrGatewayUnavailable           = errors.New("payment gateway is unavailable")
	ErrGatewayRejected              = errors.New("payment gateway rejected the request")
	ErrInconsistentStatusTransition = errors.New("status transition contradicts the terminal order status")
	ErrInvalidStatus                = errors.New("invalid order status")
	ErrOrderNotFound                = errors.New("order not found")
	ErrProductNotFound              = errors.New("product not found")
	ErrCartItemNotFound             = errors.New("cart item not found")
	ErrInvalidQuantity              = errors.New("quantity must be at least 1")
	ErrCheckoutInProgress           = errors.New("checkout already in progress for this buyer")
	ErrOrderNotPayable              = errors.New("order is not awaiting payment")
)

type ProductUnavailableError struct {
	ProductID int64
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %d is unavailable", e.ProductID)
}

func (e *ProductUnavailableError) Unwrap() error { return ErrProductUnavailable }

type ProductNotPricedError struct {
	ProductID int64
}

func (e *ProductNotPricedError) Error() string {
	return fmt.Sprintf("product %d has no price set", e.ProductID)
}

func (e *ProductNotPricedError) Unwrap() error { return ErrProductNotPriced }

type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// IsClientError reports whether err is a checkout validation failure the buyer
// has to fix. These are never retried and leave no side effects.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrProductUnavailable) ||
		errors.Is(err, ErrProductNotPriced) ||
		errors.Is(err, ErrInsufficientStock)
}
