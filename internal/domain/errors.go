package domain

import "errors"

// Domain errors
var (
	ErrPlayerNotFound       = errors.New("player not found")
	ErrPlayerExists         = errors.New("player already exists")
	ErrPeriodNotFound       = errors.New("period not found")
	ErrPeriodNotActive      = errors.New("period is not active")
	ErrPeriodNotSettled     = errors.New("period is not settled yet")
	ErrInsufficientBalance  = errors.New("insufficient gold bar balance")
	ErrDuplicateTransaction = errors.New("transaction already recorded")
	ErrInvalidRule          = errors.New("invalid distribution rule")
	ErrTemplateNotFound     = errors.New("distribution template not found")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInternalError        = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) || errors.Is(err, ErrPeriodNotFound)
}
