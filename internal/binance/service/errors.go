package service

import (
	"errors"
	"fmt"

	"github.com/adshao/go-binance/v2/common"
	"github.com/sony/gobreaker"

	"laddertrade/internal/exchange"
)

// Binance error codes the gateway cares about.
const (
	codeUnknown           = -1000
	codeDisconnected      = -1001
	codeTooManyRequests   = -1003
	codeTimeout           = -1007
	codeServerBusy        = -1008
	codeTooManyOrders     = -1015
	codeTimestamp         = -1021
	codeUnknownOrder      = -2011
	codeNoSuchOrder       = -2013
	codeDuplicateClientID = -4116
)

// classify maps an SDK error to exchange.TransientError / PermanentError.
// Anything that is not an API error (network, timeout, breaker open) is transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeUnknown, codeDisconnected, codeTooManyRequests, codeTimeout,
			codeServerBusy, codeTooManyOrders, codeTimestamp:
			return exchange.Transient(op, err)
		case codeUnknownOrder, codeNoSuchOrder:
			if op == opCancel {
				return fmt.Errorf("%s: %w: %v", op, exchange.ErrOrderNotOpen, err)
			}
			if apiErr.Code == codeNoSuchOrder {
				return fmt.Errorf("%s: %w: %v", op, exchange.ErrOrderNotFound, err)
			}
		}
		// invalid price/qty, insufficient margin, bad symbol, bad keys, ...
		return exchange.Permanent(op, apiErr.Code, err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return exchange.Transient(op, fmt.Errorf("circuit breaker: %w", err))
	}
	return exchange.Transient(op, err)
}

func apiCode(err error) int64 {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// countsAsSuccess keeps request rejections from tripping the breaker, only
// connectivity and server trouble should open it.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case codeUnknown, codeDisconnected, codeTooManyRequests, codeTimeout, codeServerBusy:
		return false
	}
	return true
}
