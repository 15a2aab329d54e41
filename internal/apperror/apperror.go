// Package apperror carries the named rejections raised by the sale and
// return services so the transport layer can map them without string
// matching.
package apperror

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindStockConflict Kind = "stock_conflict"
	KindNotFound      Kind = "not_found"
	KindPersistence   Kind = "persistence"
	KindForbidden     Kind = "forbidden"
)

const (
	CodeEmptyCart           = "EMPTY_CART"
	CodeSalesmanRequired    = "SALESMAN_REQUIRED"
	CodeSalesmanNotFound    = "SALESMAN_NOT_FOUND"
	CodeCustomerNotFound    = "CUSTOMER_NOT_FOUND"
	CodeItemNotFound        = "ITEM_NOT_FOUND"
	CodeInvalidItemType     = "INVALID_ITEM_TYPE"
	CodeInvalidQuantity     = "INVALID_QUANTITY"
	CodeInvalidUnitPrice    = "INVALID_UNIT_PRICE"
	CodeInvalidTotal        = "INVALID_TOTAL"
	CodeTotalMismatch       = "TOTAL_MISMATCH"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeInvalidDiscount     = "INVALID_DISCOUNT"
	CodeInvalidTax          = "INVALID_TAX"
	CodeNoSelections        = "NO_SELECTIONS"
	CodeReturnWindowExpired = "RETURN_WINDOW_EXPIRED"
	CodeItemNotReturnable   = "ITEM_NOT_RETURNABLE"
	CodeReturnQtyExceeded   = "RETURN_QTY_EXCEEDED"
	CodeInvalidReturnType   = "INVALID_RETURN_TYPE"
	CodeSaleNotFound        = "SALE_NOT_FOUND"
	CodeSaleItemNotFound    = "SALE_ITEM_NOT_FOUND"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeUsernameTaken       = "USERNAME_TAKEN"
	CodeForbidden           = "FORBIDDEN"
	CodePersistence         = "PERSISTENCE_ERROR"
)

// Error is a classified failure. Details are surfaced to the caller as-is,
// Err is kept for logging and errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

func Validation(code string, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func NotFound(code string, entity string, id any) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    code,
		Message: fmt.Sprintf("%s not found", entity),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// InsufficientStock names the item so the operator can fix the offending row.
func InsufficientStock(itemName string, requested int, available int) *Error {
	return &Error{
		Kind:    KindStockConflict,
		Code:    CodeInsufficientStock,
		Message: fmt.Sprintf("insufficient stock for %s", itemName),
		Details: map[string]any{
			"item":      itemName,
			"requested": requested,
			"available": available,
		},
	}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: message}
}

// Persistence wraps a store failure verbatim.
func Persistence(op string, err error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Code:    CodePersistence,
		Message: op,
		Err:     err,
	}
}

func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindPersistence
}
