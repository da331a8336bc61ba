package dispatch

// Error codes returned in result entries by the gateway.
const (
	CodeMissingRegistration       = "MissingRegistration"
	CodeInvalidRegistration       = "InvalidRegistration"
	CodeNotRegistered             = "NotRegistered"
	CodeInvalidPackageName        = "InvalidPackageName"
	CodeMismatchSenderID          = "MismatchSenderId"
	CodeMessageTooBig             = "MessageTooBig"
	CodeInvalidDataKey            = "InvalidDataKey"
	CodeInvalidTTL                = "InvalidTtl"
	CodeUnavailable               = "Unavailable"
	CodeInternalServerError       = "InternalServerError"
	CodeDeviceMessageRateExceeded = "DeviceMessageRateExceeded"
	CodeTopicsMessageRateExceeded = "TopicsMessageRateExceeded"
	CodeInvalidApnsCredential     = "InvalidApnsCredential"
)

// Codes the engine reports to an ErrorSink for its own classifications.
const (
	CodeIdentifierChanged = "IdentifierChanged"
	CodeMalformedEntry    = "MalformedEntry"
)

// Action is what a host should do with a recipient after a non-delivered result.
type Action int

const (
	// ActionLog: nothing to change in the registry; record the event.
	ActionLog Action = iota
	// ActionDelete: the identifier is dead and should be removed.
	ActionDelete
	// ActionUpdate: replace the stored identifier with Result.CanonicalID.
	ActionUpdate
	// ActionRetry: the recipient may be retried later with a new push.
	ActionRetry
)

func (a Action) String() string {
	switch a {
	case ActionDelete:
		return "delete"
	case ActionUpdate:
		return "update"
	case ActionRetry:
		return "retry"
	default:
		return "log"
	}
}

// ActionFor maps a reported code to the host-side reaction.
func ActionFor(code string) Action {
	switch code {
	case CodeIdentifierChanged:
		return ActionUpdate
	case CodeNotRegistered, CodeInvalidRegistration, CodeMissingRegistration, CodeMismatchSenderID:
		return ActionDelete
	case CodeUnavailable, CodeInternalServerError, CodeDeviceMessageRateExceeded, CodeTopicsMessageRateExceeded:
		return ActionRetry
	default:
		return ActionLog
	}
}
