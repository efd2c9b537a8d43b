package models

import "time"

// Invite statuses. Log entries are append-only; the sweeper appends an
// expired entry rather than mutating the original sent row.
const (
	InviteStatusSent     = "sent"
	InviteStatusAccepted = "accepted"
	InviteStatusFailed   = "failed"
	InviteStatusExpired  = "expired"
	InviteStatusWithdraw = "withdrawn"
)

// InviteLogEntry is one immutable record of a connection-request attempt.
type InviteLogEntry struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id" validate:"required"`
	LeadID          string    `json:"lead_id,omitempty"`
	CampaignID      string    `json:"campaign_id,omitempty"`
	Status          string    `json:"status"`
	MessageIncluded bool      `json:"message_included"`
	SentAt          time.Time `json:"sent_at"`
}

// AccountType classifies an external messaging account; each type carries
// different platform-imposed send ceilings.
type AccountType string

const (
	AccountTypeFree           AccountType = "free"
	AccountTypePremium        AccountType = "premium"
	AccountTypeSalesNavigator AccountType = "sales_navigator"
)

// InviteLimits caps the three rate windows. Zero means "use the account-type
// default"; MonthlyMessagesUnlimited disables the personalized-note cap.
type InviteLimits struct {
	Daily           int `json:"daily"`
	Weekly          int `json:"weekly"`
	MonthlyMessages int `json:"monthly_messages"`
}

const MonthlyMessagesUnlimited = -1

// DefaultInviteLimits returns the platform-aligned defaults per account type.
func DefaultInviteLimits(accountType AccountType) InviteLimits {
	switch accountType {
	case AccountTypePremium:
		return InviteLimits{Daily: 50, Weekly: 200, MonthlyMessages: MonthlyMessagesUnlimited}
	case AccountTypeSalesNavigator:
		return InviteLimits{Daily: 80, Weekly: 250, MonthlyMessages: MonthlyMessagesUnlimited}
	case AccountTypeFree:
		return InviteLimits{Daily: 25, Weekly: 100, MonthlyMessages: 10}
	default:
		return InviteLimits{Daily: 25, Weekly: 100, MonthlyMessages: 10}
	}
}

// MessagingAccount is the external account invites are sent from.
type MessagingAccount struct {
	ID          string       `json:"id"`
	AccountType AccountType  `json:"account_type"`
	Overrides   InviteLimits `json:"overrides"`
	InviteTTL   time.Duration `json:"invite_ttl,omitempty"`
}

// Limits resolves the effective limits, applying per-account overrides on
// top of the account-type defaults.
func (a *MessagingAccount) Limits() InviteLimits {
	limits := DefaultInviteLimits(a.AccountType)

	if a.Overrides.Daily > 0 {
		limits.Daily = a.Overrides.Daily
	}

	if a.Overrides.Weekly > 0 {
		limits.Weekly = a.Overrides.Weekly
	}

	if a.Overrides.MonthlyMessages != 0 {
		limits.MonthlyMessages = a.Overrides.MonthlyMessages
	}

	return limits
}
