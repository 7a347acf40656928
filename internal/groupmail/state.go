package groupmail

import "log/slog"

// State is the progress of one send request.
type State string

// Request states. Every request passes through StateCleaned before ending in
// StateCompleted or StateFailed.
const (
	StateReceived           State = "received"
	StateStaged             State = "staged"
	StateAddressesValidated State = "addresses_validated"
	StateDispatched         State = "dispatched"
	StateCleaned            State = "cleaned"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

type tracker struct {
	logger *slog.Logger
	state  State
}

func (t *tracker) to(next State) {
	t.logger.Debug("request state",
		slog.String("from", string(t.state)),
		slog.String("to", string(next)))
	t.state = next
}
