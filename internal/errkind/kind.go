// Package errkind enumerates the distinct error categories NetSentinel
// distinguishes across the capture and aggregation binaries, so the
// propagation-policy switch in each component's caller and the logging
// layer can branch on kind without string matching.
package errkind

// Kind tags an error with the category that determines how its caller
// should react: exit the process, drop the unit of work and continue, or
// back off and retry.
type Kind int

const (
	ConfigInvalid Kind = iota
	InterfaceNotFound
	InterfaceDown
	PermissionDenied
	DecodeTruncated
	DecodeMalformed
	ChannelFull
	BrokerUnavailable
	BrokerProtocol
	DatabaseUnavailable
	DatabaseConstraint
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case ConfigInvalid:
		return "config_invalid"
	case InterfaceNotFound:
		return "interface_not_found"
	case InterfaceDown:
		return "interface_down"
	case PermissionDenied:
		return "permission_denied"
	case DecodeTruncated:
		return "decode_truncated"
	case DecodeMalformed:
		return "decode_malformed"
	case ChannelFull:
		return "channel_full"
	case BrokerUnavailable:
		return "broker_unavailable"
	case BrokerProtocol:
		return "broker_protocol"
	case DatabaseUnavailable:
		return "database_unavailable"
	case DatabaseConstraint:
		return "database_constraint"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Fatal reports whether an error of this kind should abort the process
// during init rather than being counted and skipped during steady state.
func (k Kind) Fatal() bool {
	switch k {
	case ConfigInvalid, InterfaceNotFound, PermissionDenied:
		return true
	default:
		return false
	}
}

// Error wraps an underlying error with a Kind, giving callers a single
// type to unwrap when they need to branch on error category.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
