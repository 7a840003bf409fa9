// Package retention maps security event types to how long their records must
// be kept. The mapping is an injected, immutable value so a deployment can
// swap in a per-jurisdiction table without touching the audit or purge code.
package retention

import "time"

// Policy is a total lookup from event type to retention days. It carries no
// clock: resolution depends only on its inputs, so the audit writer and the
// purge scheduler always agree on the same answer.
type Policy struct {
	days        map[string]int
	defaultDays int
}

// Retention periods in days.
const (
	threeYears = 1095
	sevenYears = 2555
	tenYears   = 3650
)

// Default returns the stock compliance table: authentication failures and
// eID events keep seven years, routine authentication success three, security
// incidents and compliance audits ten, everything else seven.
func Default() Policy {
	return Policy{
		days: map[string]int{
			"authentication_success": threeYears,
			"authentication_failed":  sevenYears,
			"bankid_auth_success":    sevenYears,
			"bankid_auth_failed":     sevenYears,
			"data_access":            sevenYears,
			"data_export":            sevenYears,
			"data_deletion":          sevenYears,
			"admin_action":           sevenYears,
			"security_incident":      tenYears,
			"compliance_audit":       tenYears,
		},
		defaultDays: sevenYears,
	}
}

// NewPolicy builds a policy from an explicit table. The map is copied so the
// policy stays immutable after construction.
func NewPolicy(days map[string]int, defaultDays int) Policy {
	copied := make(map[string]int, len(days))
	for k, v := range days {
		copied[k] = v
	}
	return Policy{days: copied, defaultDays: defaultDays}
}

// Days resolves the retention period for an event type.
func (p Policy) Days(eventType string) int {
	if d, ok := p.days[eventType]; ok {
		return d
	}
	return p.defaultDays
}

// Until computes the retention deadline for an event that occurred at ts.
func (p Policy) Until(eventType string, ts time.Time) time.Time {
	return ts.AddDate(0, 0, p.Days(eventType))
}
