package domain

import "time"

// RequestType identifies the kind of approval request.
// Currently one variant: assigning an orphaned service to a team.
type RequestType string

const (
	RequestTypeAssignService RequestType = "ASSIGN_SERVICE_OWNERSHIP"
)

// RequestStatus represents the lifecycle state of an approval request.
// PENDING is the only non-terminal state; terminal states are immutable.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected || s == RequestStatusCancelled
}

// GateKind is a closed enumeration of approval checkpoints.
// Adding a gate kind requires touching Valid and Eligible, which keeps
// gate dispatch compile-checked instead of stringly-typed (ADR-0003).
type GateKind string

const (
	// GateSystemAdmin requires the system-administrator role flag.
	GateSystemAdmin GateKind = "system-administrator"

	// GateLineManager requires the caller to be the manager captured in
	// the request's requester snapshot at creation time.
	GateLineManager GateKind = "line-manager"
)

// Valid reports whether k is a known gate kind.
func (k GateKind) Valid() bool {
	switch k {
	case GateSystemAdmin, GateLineManager:
		return true
	}
	return false
}

// Eligible reports whether caller may decide this gate for a request whose
// requester state was snapshotted as snap. The snapshot, not the requester's
// current org state, drives line-manager eligibility: a manager change after
// submission must not alter who can decide.
func (k GateKind) Eligible(caller UserContext, snap RequesterSnapshot) bool {
	if caller.UserID == SystemActorID {
		return false
	}
	switch k {
	case GateSystemAdmin:
		return caller.SystemAdmin
	case GateLineManager:
		return snap.ManagerID != "" && caller.UserID == snap.ManagerID
	}
	return false
}

// Gate is one required approval checkpoint within a request.
type Gate struct {
	Kind GateKind `json:"kind"`

	// MinApprovals is the number of APPROVE decisions required to satisfy
	// this gate. Currently always 1.
	MinApprovals int `json:"min_approvals"`
}

// RequesterSnapshot is the requester's org state captured at request
// creation. Gate requirements and line-manager eligibility are computed
// from it so later org changes cannot retroactively alter the request.
type RequesterSnapshot struct {
	TeamIDs     []string `json:"team_ids"`
	ManagerID   string   `json:"manager_id,omitempty"`
	SystemAdmin bool     `json:"system_admin"`
}

// RequiredGates derives the gate list for a new request from the requester's
// snapshot: always a system-administrator gate; additionally a line-manager
// gate when the snapshot carries a non-blank manager id.
func RequiredGates(snap RequesterSnapshot) []Gate {
	gates := []Gate{{Kind: GateSystemAdmin, MinApprovals: 1}}
	if snap.ManagerID != "" {
		gates = append(gates, Gate{Kind: GateLineManager, MinApprovals: 1})
	}
	return gates
}

// ApprovalRequest is a single ownership-transfer proposal.
// Never physically deleted; terminal requests remain for audit.
type ApprovalRequest struct {
	ID           string            `json:"id"`
	Type         RequestType       `json:"type"`
	RequesterID  string            `json:"requester_id"`
	ServiceID    string            `json:"service_id"`
	TargetTeamID string            `json:"target_team_id"`
	Gates        []Gate            `json:"gates"`
	Status       RequestStatus     `json:"status"`
	Snapshot     RequesterSnapshot `json:"requester_snapshot"`

	// Reason records why a request left PENDING without full approval
	// (cancellation, veto, cascade rejection, conflict loss).
	Reason string `json:"reason,omitempty"`

	// Version is the optimistic-lock counter. Every status transition is
	// conditioned on the version read beforehand (ADR-0002).
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasGate reports whether the request requires the given gate kind.
func (r *ApprovalRequest) HasGate(kind GateKind) bool {
	for _, g := range r.Gates {
		if g.Kind == kind {
			return true
		}
	}
	return false
}

// Verdict is the value of a single gate vote.
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictReject  Verdict = "REJECT"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	return v == VerdictApprove || v == VerdictReject
}

// Decision is one recorded gate vote. Immutable once created.
// ApproverID is SystemActorID for cascade-generated decisions.
type Decision struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	ApproverID string    `json:"approver_id"`
	Gate       GateKind  `json:"gate"`
	Verdict    Verdict   `json:"verdict"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ApprovalRequestList represents a paginated list of approval requests.
type ApprovalRequestList struct {
	Items      []*ApprovalRequest `json:"items"`
	TotalCount int                `json:"total_count"`
}

// RequestFilter narrows approval request listings.
// Zero values mean no constraint.
type RequestFilter struct {
	ServiceID   string
	RequesterID string
	Status      RequestStatus

	// OldestFirst orders results for review queues; default is newest first.
	OldestFirst bool

	Limit  int
	Offset int
}
