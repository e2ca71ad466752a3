package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Kind classifies an application error independently of transport.
type Kind string

const (
	KindUnauthenticated   Kind = "unauthenticated"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation_error"
	KindInsufficientStock Kind = "insufficient_stock"
	KindGateway           Kind = "gateway_error"
	KindInvalidTransition Kind = "invalid_transition"
	KindSignatureInvalid  Kind = "signature_invalid"
	KindInternal          Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindUnauthenticated:   http.StatusUnauthorized,
	KindForbidden:         http.StatusForbidden,
	KindNotFound:          http.StatusNotFound,
	KindValidation:        http.StatusBadRequest,
	KindInsufficientStock: http.StatusBadRequest,
	KindGateway:           http.StatusBadGateway,
	KindInvalidTransition: http.StatusConflict,
	KindSignatureInvalid:  http.StatusBadRequest,
	KindInternal:          http.StatusInternalServerError,
}

// Error represents an application error
type Error struct {
	Code    int                    `json:"-"`
	Kind    Kind                   `json:"code"`
	Message string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the status code of its kind
func New(kind Kind, message string, err error) *Error {
	code, ok := kindStatus[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &Error{Code: code, Kind: kind, Message: message, Err: err}
}

// With attaches a detail field rendered in the response body.
func (e *Error) With(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func Unauthenticated(message string) *Error {
	return New(KindUnauthenticated, message, nil)
}

// Forbidden never says whether the resource exists.
func Forbidden() *Error {
	return New(KindForbidden, "Forbidden", nil)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

func Validation(message string) *Error {
	return New(KindValidation, message, nil)
}

func InsufficientStock(productID string, available int) *Error {
	return New(KindInsufficientStock, fmt.Sprintf("Insufficient stock for product %s", productID), nil).
		With("product_id", productID).
		With("available", available)
}

func Gateway(message string, err error) *Error {
	return New(KindGateway, message, err)
}

func InvalidTransition(err error) *Error {
	return New(KindInvalidTransition, err.Error(), err)
}

func SignatureInvalid(err error) *Error {
	return New(KindSignatureInvalid, "Invalid webhook signature", err)
}

func Internal(message string, err error) *Error {
	return New(KindInternal, message, err)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Body is the JSON rendered to clients. Internal causes are never included.
func (e *Error) Body() gin.H {
	body := gin.H{"error": e.Message, "code": e.Kind}
	for k, v := range e.Details {
		body[k] = v
	}
	return body
}

// ErrorMiddleware renders the last error a handler attached with ctx.Error.
func ErrorMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := As(err)
		if !ok {
			appErr = Internal("Internal server error", err)
		}

		if appErr.Code >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("path", c.Request.URL.Path),
				zap.String("kind", string(appErr.Kind)),
				zap.String("request_id", c.GetString("request_id")),
				zap.Error(err),
			)
		}

		c.AbortWithStatusJSON(appErr.Code, appErr.Body())
	}
}
