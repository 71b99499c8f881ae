package gateway

// declineEntry maps a gateway decline code to the user-facing message and
// whether the workflow may offer a retry with another card. Retryable here
// means "safe to show a try-another-card prompt", never auto-resubmission.
type declineEntry struct {
	Message   string
	Retryable bool
}

const genericDeclineMessage = "Your card was declined."

var declineTable = map[string]declineEntry{
	"insufficient_funds": {Message: "Insufficient funds.", Retryable: true},
	"generic_decline":    {Message: genericDeclineMessage, Retryable: true},
	"processing_error":   {Message: "A processing error occurred. Please try again.", Retryable: true},
	"expired_card":       {Message: "Your card has expired.", Retryable: false},
	"lost_card":          {Message: genericDeclineMessage, Retryable: false},
	"stolen_card":        {Message: genericDeclineMessage, Retryable: false},
}

// DeclineMessage returns the user-facing message and workflow-level
// retryability for a decline code. Unmapped codes get the generic message
// and are treated as retryable.
func DeclineMessage(code string) (string, bool) {
	if entry, ok := declineTable[code]; ok {
		return entry.Message, entry.Retryable
	}
	return genericDeclineMessage, true
}
