package dsr

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the data-subject rights a request can invoke.
type Type string

const (
	TypeAccess        Type = "access"
	TypeRectification Type = "rectification"
	TypeErasure       Type = "erasure"
	TypePortability   Type = "portability"
	TypeRestriction   Type = "restriction"
	TypeObjection     Type = "objection"
)

// IsValid checks if the request type is recognized.
func (t Type) IsValid() bool {
	switch t {
	case TypeAccess, TypeRectification, TypeErasure, TypePortability, TypeRestriction, TypeObjection:
		return true
	}
	return false
}

// AutoProcessed reports whether submission immediately triggers asynchronous
// processing. Access and portability need no human review.
func (t Type) AutoProcessed() bool {
	return t == TypeAccess || t == TypePortability
}

// Status is the request lifecycle state. Transitions are monotonic:
// pending -> in_progress -> completed or rejected, with one shortcut: an
// erasure blocked by a legal hold goes straight from pending to rejected.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// SubjectKind says whose data the request concerns.
type SubjectKind string

const (
	SubjectSelf  SubjectKind = "self"
	SubjectOther SubjectKind = "other"
)

// Request is one data-subject rights request. Rows are created at submission,
// mutated only by the manager, and never deleted.
type Request struct {
	ID                  uuid.UUID
	Type                Type
	Status              Status
	RequesterID         string
	RequesterEmail      string
	SubjectKind         SubjectKind
	SubjectID           string
	SubjectEmail        string
	LegalBasis          string
	Description         string
	RequestedData       []string
	Tenant              string
	SubmittedAt         time.Time
	EstimatedCompletion time.Time
	ProcessedAt         *time.Time
	CompletedAt         *time.Time
	ResponseData        map[string]any
	RejectionReason     string
}

// Subject resolves whose data to operate on: the distinct subject when the
// request was filed on someone's behalf, otherwise the requester.
func (r *Request) Subject() string {
	if r.SubjectID != "" {
		return r.SubjectID
	}
	return r.RequesterID
}

// Stats are the compliance aggregates served to the dashboard.
type Stats struct {
	ByStatus          map[Status]int `json:"by_status"`
	ByType            map[Type]int   `json:"by_type"`
	AvgProcessingDays float64        `json:"avg_processing_days"`
	ConsentsGiven     int            `json:"consents_given"`
	ConsentsWithdrawn int            `json:"consents_withdrawn"`
}
