package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrTradingDisabled  = errors.New("live trading disabled")
	ErrCircuitBreaker   = errors.New("circuit breaker tripped")
	ErrTradeInFlight    = errors.New("a trade is already executing")
	ErrBelowThreshold   = errors.New("net profit below threshold")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for trade amount")
	ErrInvalidConfig    = errors.New("invalid trading configuration")
	ErrLegTimeout       = errors.New("leg order timed out")
	ErrWSDisconnect     = errors.New("websocket disconnected")
)
