package transport

import "github.com/pkg/errors"

// ErrUnknownPeer is returned by Send when the destination is not in the
// static cluster table.
var ErrUnknownPeer = errors.New("transport: unknown peer")

// withHeader returns msg with its header replaced by h. Every concrete
// Message type is a plain struct with a single H field, so this is a
// mechanical type switch rather than anything resembling reflection.
func withHeader(msg Message, h Header) Message {
	switch m := msg.(type) {
	case TxnMsg:
		m.H = h
		return m
	case BlockMsg:
		m.H = h
		return m
	case PrepareMsg:
		m.H = h
		return m
	case PromiseMsg:
		m.H = h
		return m
	case AcceptMsg:
		m.H = h
		return m
	case AcceptedMsg:
		m.H = h
		return m
	case NackMsg:
		m.H = h
		return m
	case DecideMsg:
		m.H = h
		return m
	case PingMsg:
		m.H = h
		return m
	case BackfillRequestMsg:
		m.H = h
		return m
	case BackfillResponseMsg:
		m.H = h
		return m
	default:
		return msg
	}
}
