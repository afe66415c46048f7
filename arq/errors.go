package arq

import "github.com/pkg/errors"

var (
	// ErrRetryBudgetExhausted ends a transfer after a packet ran out of
	// retransmission attempts. The wrapped message carries the last
	// known window progress.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrWindowViolation means the peer acknowledged a sequence number
	// that was never sent. The connection aborts.
	ErrWindowViolation = errors.New("window violation")

	// ErrAborted is returned by calls pending when Abort tears the
	// session down.
	ErrAborted = errors.New("session aborted")

	// ErrSessionClosed is returned by API calls on a terminated session.
	ErrSessionClosed = errors.New("session closed")
)

// IsRetryBudgetExhausted reports whether err is a retry budget failure.
func IsRetryBudgetExhausted(err error) bool {
	return errors.Cause(err) == ErrRetryBudgetExhausted
}

// IsWindowViolation reports whether err is a window violation.
func IsWindowViolation(err error) bool {
	return errors.Cause(err) == ErrWindowViolation
}
