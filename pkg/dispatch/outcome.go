package dispatch

import "strconv"

// Outcome is the result code an order engine reports for a transaction.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeInvalidConfig
	OutcomeDeviceUnreachable
	OutcomeDeviceRejected
	OutcomeTimeout
	OutcomeDatastoreLocked
	OutcomeNotFound
	OutcomeAborted
	OutcomeInternalError
)

// DefaultReason is reported for outcomes without a mapped reason.
const DefaultReason = "internal error"

var reasons = map[Outcome]string{
	OutcomeInvalidConfig:     "configuration is invalid",
	OutcomeDeviceUnreachable: "network element is unreachable",
	OutcomeDeviceRejected:    "network element rejected the configuration",
	OutcomeTimeout:           "operation timed out",
	OutcomeDatastoreLocked:   "datastore is locked",
	OutcomeNotFound:          "requested data was not found",
	OutcomeAborted:           "operation was aborted",
	OutcomeInternalError:     DefaultReason,
}

// Reason returns the error-message sent for o.
func (o Outcome) Reason() string {
	if r, ok := reasons[o]; ok {
		return r
	}
	return DefaultReason
}

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeInvalidConfig:
		return "invalid-config"
	case OutcomeDeviceUnreachable:
		return "device-unreachable"
	case OutcomeDeviceRejected:
		return "device-rejected"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeDatastoreLocked:
		return "datastore-locked"
	case OutcomeNotFound:
		return "not-found"
	case OutcomeAborted:
		return "aborted"
	case OutcomeInternalError:
		return "internal-error"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}
