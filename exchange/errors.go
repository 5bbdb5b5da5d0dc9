package exchange

import "errors"

var (
	// ErrCommunication indicates that the transport reported a failure
	// during a collective exchange, on this rank or on a peer. The
	// exchange did not complete; the communicator state is undefined and
	// should be discarded via Free.
	ErrCommunication = errors.New("exchange: communication failed")

	// ErrNotBuilt is returned when an exchange runs before Build.
	ErrNotBuilt = errors.New("exchange: communicator not built")

	// ErrNeedsRepresentatives is returned when Build is used with a
	// variable-size policy; sizing those plans requires representative
	// containers, use BuildVar.
	ErrNeedsRepresentatives = errors.New("exchange: variable-size policy requires representative containers")

	// ErrContract flags a violated caller contract detected by the
	// optional runtime checks: a layout disagreement, an out-of-bounds
	// buffer offset or overlapping in-place lists.
	ErrContract = errors.New("exchange: contract violation")
)
