package domain

import (
	"errors"
	"fmt"
)

// NetworkError is a transport failure talking to the server.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx answer from the server.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server responded with status %d", e.Status)
	}
	return fmt.Sprintf("server responded with status %d: %s", e.Status, e.Message)
}

// ValidationError rejects a request before anything is mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InsufficientStockWarning reports demand FIFO depletion could not cover.
// It is informational: the bill is still recorded.
type InsufficientStockWarning struct {
	ProductName string `json:"productName"`
	Shortfall   int    `json:"shortfall"`
}

func (w InsufficientStockWarning) String() string {
	return fmt.Sprintf("not enough stock for %s, short by %d units", w.ProductName, w.Shortfall)
}

// IsConnectivity reports whether err means the server could not be used.
func IsConnectivity(err error) bool {
	var netErr *NetworkError
	var srvErr *ServerError
	return errors.As(err, &netErr) || errors.As(err, &srvErr)
}

func IsValidation(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}
