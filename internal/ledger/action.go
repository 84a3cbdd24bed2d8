package ledger

import "sort"

// Action identifies the kind of event being recorded. The set is closed:
// Service.Append rejects anything not listed here.
type Action string

const (
	ActionUserCreate          Action = "user.create"
	ActionUserUpdate          Action = "user.update"
	ActionUserDelete          Action = "user.delete"
	ActionUserRoleChange      Action = "user.role.change"
	ActionUserSuspend         Action = "user.suspend"
	ActionUserReactivate      Action = "user.reactivate"
	ActionEntitlementGrant    Action = "entitlement.grant"
	ActionEntitlementRevoke   Action = "entitlement.revoke"
	ActionPaymentRefund       Action = "payment.refund"
	ActionPaymentChargeback   Action = "payment.chargeback"
	ActionSubscriptionCancel  Action = "subscription.cancel"
	ActionAuthLogin           Action = "auth.login"
	ActionAuthLogout          Action = "auth.logout"
	ActionAuthFailedLogin     Action = "auth.failed_login"
	ActionAuthPasswordReset   Action = "auth.password_reset"
	ActionAuthMFADisable      Action = "auth.mfa.disable"
	ActionDataExport          Action = "data.export"
	ActionAdminSettingsChange Action = "admin.settings.change"
	ActionAdminImpersonate    Action = "admin.impersonate"
)

// Severity classifies how urgently an auditor should look at an entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// actionSeverity maps each known action to the severity used when the
// producer does not supply one.
var actionSeverity = map[Action]Severity{
	ActionUserCreate:          SeverityInfo,
	ActionUserUpdate:          SeverityInfo,
	ActionUserDelete:          SeverityWarning,
	ActionUserRoleChange:      SeverityWarning,
	ActionUserSuspend:         SeverityWarning,
	ActionUserReactivate:      SeverityInfo,
	ActionEntitlementGrant:    SeverityInfo,
	ActionEntitlementRevoke:   SeverityWarning,
	ActionPaymentRefund:       SeverityWarning,
	ActionPaymentChargeback:   SeverityError,
	ActionSubscriptionCancel:  SeverityInfo,
	ActionAuthLogin:           SeverityInfo,
	ActionAuthLogout:          SeverityInfo,
	ActionAuthFailedLogin:     SeverityWarning,
	ActionAuthPasswordReset:   SeverityWarning,
	ActionAuthMFADisable:      SeverityCritical,
	ActionDataExport:          SeverityWarning,
	ActionAdminSettingsChange: SeverityWarning,
	ActionAdminImpersonate:    SeverityCritical,
}

// Actions returns every accepted action, sorted.
func Actions() []Action {
	out := make([]Action, 0, len(actionSeverity))
	for a := range actionSeverity {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether a is in the closed action set.
func (a Action) Valid() bool {
	_, ok := actionSeverity[a]
	return ok
}

// DefaultSeverity returns the severity recorded for a when the producer
// leaves it empty. Unknown actions default to SeverityInfo.
func (a Action) DefaultSeverity() Severity {
	if s, ok := actionSeverity[a]; ok {
		return s
	}
	return SeverityInfo
}

// Valid reports whether s is a known severity level.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}
