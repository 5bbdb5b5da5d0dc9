package indexsync

import (
	"errors"
	"fmt"

	"github.com/hupe1980/indexsync/exchange"
	"github.com/hupe1980/indexsync/remote"
)

var (
	// ErrClosed is returned when a closed exchanger is used.
	ErrClosed = errors.New("exchanger is closed")

	// ErrTopology indicates inconsistent index sets across the peer
	// group at build time.
	ErrTopology = errors.New("topology build failed")
)

// ExchangeError indicates that a collective exchange failed; the plan
// should be discarded and rebuilt.
//
// The original underlying error can be accessed via errors.Unwrap.
type ExchangeError struct {
	Direction Direction
	cause     error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s exchange failed: %v", e.Direction, e.cause)
}

func (e *ExchangeError) Unwrap() error { return e.cause }

// translateError normalizes subpackage errors into the root taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, remote.ErrTopologyMismatch) {
		return fmt.Errorf("%w: %w", ErrTopology, err)
	}
	return err
}

// translateExchangeError wraps communicator failures with their
// direction.
func translateExchangeError(d Direction, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exchange.ErrCommunication) || errors.Is(err, exchange.ErrContract) {
		return &ExchangeError{Direction: d, cause: err}
	}
	return err
}
