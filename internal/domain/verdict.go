package domain

// Rule names recorded on evaluated transactions.
const (
	RuleAuthAttempts      = "auth_attempts"
	RulePanicMode         = "panic_mode"
	RuleChannelChange     = "channel_change"
	RuleDeviceChange      = "device_change"
	RuleGeoMismatch       = "geo_mismatch"
	RuleDistinctReceivers = "distinct_receivers"
	RuleHighAmountNight   = "high_amount_night"
	RuleHighAmount        = "high_amount"
	RuleNewReceiver       = "new_receiver"
	RuleApproved          = "approved"
)

const (
	ReasonAuthAttempts      = "multiple failed authentication attempts."
	ReasonPanicMode         = "possible panic-mode attack: too many transactions in a short period."
	ReasonDeviceChange      = "device differs from the account's last recorded device."
	ReasonGeoMismatch       = "geo-location changed relative to the last transaction."
	ReasonDistinctReceivers = "suspicious pattern: multiple distinct receivers within one hour."
	ReasonHighAmountNight   = "critical alert: high-value transaction at an unusual hour"
	ReasonHighAmount        = "warning: amount exceeds the normal limit."
	ReasonNewReceiver       = "new receiver and elevated amount."
	ReasonApproved          = "transaction approved."
)

// Verdict is the outcome of a risk evaluation.
type Verdict struct {
	Suspicious bool   `json:"suspicious"`
	Rule       string `json:"rule"`
	Reason     string `json:"reason"`
}

func Suspicious(rule, reason string) *Verdict {
	return &Verdict{Suspicious: true, Rule: rule, Reason: reason}
}

func Approved() Verdict {
	return Verdict{Rule: RuleApproved, Reason: ReasonApproved}
}
