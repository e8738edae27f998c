package proxy

// State is a step of the per-request state machine. The happy path runs
// Validated, Fetched, BodyTransformed, HeadersRewritten, Emitted in order;
// Rejected, UpstreamFailed and InternalError are terminal exits.
type State int

const (
	StateReceived State = iota
	StateValidated
	StateFetched
	StateBodyTransformed
	StateHeadersRewritten
	StateEmitted
	StateRejected
	StateUpstreamFailed
	StateInternalError
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateValidated:
		return "validated"
	case StateFetched:
		return "fetched"
	case StateBodyTransformed:
		return "body_transformed"
	case StateHeadersRewritten:
		return "headers_rewritten"
	case StateEmitted:
		return "emitted"
	case StateRejected:
		return "rejected"
	case StateUpstreamFailed:
		return "upstream_failed"
	case StateInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateEmitted
}

func failureState(code int) State {
	switch code {
	case 403:
		return StateRejected
	case 502:
		return StateUpstreamFailed
	default:
		return StateInternalError
	}
}
