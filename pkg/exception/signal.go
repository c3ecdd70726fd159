package exception

import "errors"

var (
	ErrSignalChecksumMismatch  = errors.New("signal: checksum mismatch")
	ErrSignalBatchTooLarge     = errors.New("signal: batch exceeds configured maximum")
	ErrSignalEmptySymbol       = errors.New("signal: empty token symbol")
	ErrSignalQueueFull         = errors.New("signal: subscriber queue full")
	ErrSignalQueueClosed       = errors.New("signal: subscriber queue closed")
	ErrSignalUnknownSubscriber = errors.New("signal: unknown subscriber handle")
	ErrSignalSubscriberLimit   = errors.New("signal: subscriber limit reached")
)
