package domain

// AccessStatus lets callers tell "never had access" from "ran out".
type AccessStatus string

const (
	AccessNone           AccessStatus = "none"
	AccessSystemDisabled AccessStatus = "system_disabled"
	AccessExhausted      AccessStatus = "exhausted"
	AccessAvailable      AccessStatus = "available"
)

// ResolvedEntitlement is computed on every query and never stored.
type ResolvedEntitlement struct {
	CanUse             bool
	AvailableUsages    int
	ContributingGrants []Grant
	Status             AccessStatus
	SystemEnabled      bool
	Source             Origin
}

// ConsumeReason explains a failed consumption.
type ConsumeReason string

const (
	ReasonNone        ConsumeReason = ""
	ReasonNoAccess    ConsumeReason = "no_access"
	ReasonExhausted   ConsumeReason = "exhausted"
	ReasonUnavailable ConsumeReason = "unavailable"
)

// ConsumeResult is the outcome of one consumption attempt. A failed attempt is a normal
// result, not an error.
type ConsumeResult struct {
	Success   bool
	Remaining int
	Reason    ConsumeReason
	Grant     *Grant
}

// UsageAttempt is the audit entry written for each consumption attempt.
type UsageAttempt struct {
	SubjectIdentity string
	DeviceID        string
	GrantID         *string
	Outcome         string
	Remaining       int
}
