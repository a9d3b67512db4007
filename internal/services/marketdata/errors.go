package marketdata

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
)

// NetworkError is returned on transport failures and non-success responses.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ParseError is returned when a response payload cannot be mapped into points.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed payload: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is or wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// classify sorts an error returned by the exchange library.
// Anything that is neither transport nor API status is a payload problem.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		apiErr *common.APIError
		urlErr *url.Error
		netErr net.Error
	)
	switch {
	case errors.As(err, &apiErr),
		errors.As(err, &urlErr),
		errors.As(err, &netErr),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return &NetworkError{Op: op, Err: err}
	default:
		return &ParseError{Op: op, Err: err}
	}
}
