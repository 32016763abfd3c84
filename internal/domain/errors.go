package domain

import "errors"

// Ledger and reservation errors.
var (
	ErrProductNotFound              = errors.New("product not found")
	ErrProductInactive              = errors.New("product is inactive")
	ErrInvalidQuantity              = errors.New("invalid quantity")
	ErrQuantityBelowReserved        = errors.New("quantity below reserved quantity")
	ErrInsufficientStock            = errors.New("insufficient stock")
	ErrInsufficientReservedQuantity = errors.New("insufficient reserved quantity")
	ErrConcurrentModification       = errors.New("concurrent modification")
	ErrVersionConflict              = errors.New("version conflict")
	ErrProductExists                = errors.New("product already exists")
	ErrInvalidProduct               = errors.New("sku and store id are required")
)

// Event processing errors.
var (
	ErrEventNotFound     = errors.New("inventory event not found")
	ErrDuplicateEvent    = errors.New("duplicate inventory event")
	ErrOutOfOrderEvent   = errors.New("out of order inventory event")
	ErrInvalidEvent      = errors.New("invalid inventory event")
	ErrEventNotRetryable = errors.New("only failed events can be retried")
)

// Central view errors.
var (
	ErrCentralInventoryNotFound = errors.New("central inventory not found")
	ErrStoreInventoryNotFound   = errors.New("store inventory not found")
)
