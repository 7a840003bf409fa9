package audit

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades how dangerous a security event is. High and critical
// events raise alerts synchronously.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is one of the supported values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Alerting reports whether events of this severity raise a SecurityAlert.
func (s Severity) Alerting() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Outcome records whether the audited action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Event types emitted by the compliance engine itself. Callers may log any
// type; these are the ones this module produces.
const (
	EventGDPRRequestSubmitted = "gdpr_request_submitted"
	EventGDPRAccessCompleted  = "gdpr_access_completed"
	EventGDPRErasureCompleted = "gdpr_erasure_completed"
	EventConsentRecorded      = "consent_recorded"
	EventConsentWithdrawn     = "consent_withdrawn"
	EventLogsCleanup          = "security_logs_cleanup"
)

// SecurityEvent is an append-only audit record. Rows are never updated and
// only the purge scheduler deletes them, after RetentionUntil has passed.
type SecurityEvent struct {
	ID             uuid.UUID
	Source         string
	Type           string
	Category       string
	Severity       Severity
	Description    string
	Actor          string
	Target         string
	Outcome        Outcome
	IPAddress      string
	UserAgent      string
	Timestamp      time.Time
	Metadata       map[string]any
	Tenant         string
	RetentionUntil time.Time
	// Encrypted is true iff at least one sensitive metadata field was
	// sealed at write time.
	Encrypted bool
}

// AlertStatus tracks the triage lifecycle of a SecurityAlert.
type AlertStatus string

const (
	AlertActive        AlertStatus = "active"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
)

// SecurityAlert is created synchronously for high and critical events, after
// the event row is durable.
type SecurityAlert struct {
	ID          uuid.UUID
	EventID     uuid.UUID
	Type        string
	Severity    Severity
	Title       string
	Description string
	Status      AlertStatus
	Tenant      string
	CreatedAt   time.Time
}

// SecurityMetric is an upserted counter or gauge keyed by MetricID.
type SecurityMetric struct {
	MetricID   string
	Name       string
	Type       string
	Category   string
	Value      float64
	Dimensions map[string]any
	Timestamp  time.Time
}

// Filter narrows a Query. Zero values mean "no constraint". A Limit of zero
// defaults to 50; a negative Limit disables pagination (used by exports).
type Filter struct {
	Type     string
	Category string
	Severity Severity
	Actor    string
	Tenant   string
	DateFrom time.Time
	DateTo   time.Time
	Limit    int
	Offset   int
}

// QueryResult is one page of events plus pagination bookkeeping.
type QueryResult struct {
	Events  []*SecurityEvent
	Total   int
	HasMore bool
}

// TimeSeriesPoint is one (day, severity) bucket in the stats time series.
type TimeSeriesPoint struct {
	Date     string
	Severity Severity
	Count    int
}

// Stats aggregates events over a window for the dashboard layer.
type Stats struct {
	TotalEvents       int
	SeverityBreakdown map[Severity]int
	TypeBreakdown     map[string]int
	CategoryBreakdown map[string]int
	TimeSeries        []TimeSeriesPoint
}
