package club

import (
	"strings"
	"time"
)

// Profile is the stored membership record of one identity.
type Profile struct {
	ID         string    `json:"id" db:"id"`
	Email      string    `json:"email" db:"email"`
	FullName   string    `json:"full_name" db:"full_name"`
	AvatarURL  string    `json:"avatar_url,omitempty" db:"avatar_url"`
	Rank       Rank      `json:"rank" db:"rank"`
	SubRank    SubRank   `json:"sub_rank,omitempty" db:"sub_rank"`
	Department string    `json:"department,omitempty" db:"department"`
	RoleTitle  string    `json:"role_title,omitempty" db:"role_title"`
	Bio        string    `json:"bio,omitempty" db:"bio"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// ExistedBefore reports whether the profile was stored before t.
func (p Profile) ExistedBefore(t time.Time) bool {
	return !p.CreatedAt.IsZero() && p.CreatedAt.Before(t)
}

// RequestType is the kind of an admin request.
type RequestType string

const (
	RequestAdminAccess      RequestType = "AdminAccess"
	RequestRoleVerification RequestType = "RoleVerification"
	RequestJobApplication   RequestType = "JobApplication"
)

// ParseRequestType validates a request type.
func ParseRequestType(s string) (RequestType, bool) {
	switch t := RequestType(strings.TrimSpace(s)); t {
	case RequestAdminAccess, RequestRoleVerification, RequestJobApplication:
		return t, true
	}
	return "", false
}

// RequestStatus is the lifecycle state of an admin request. Approved and
// Rejected are terminal.
type RequestStatus string

const (
	StatusPending  RequestStatus = "Pending"
	StatusApproved RequestStatus = "Approved"
	StatusRejected RequestStatus = "Rejected"
)

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// AdminRequest asks a privileged approver for promotion or role verification.
type AdminRequest struct {
	ID          string        `json:"id" db:"id"`
	RequesterID string        `json:"requester_id" db:"requester_id"`
	Type        RequestType   `json:"type" db:"type"`
	Status      RequestStatus `json:"status" db:"status"`
	Department  string        `json:"department,omitempty" db:"department"`
	RoleTitle   string        `json:"role_title,omitempty" db:"role_title"`
	ApprovedBy  string        `json:"approved_by,omitempty" db:"approved_by"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	DecidedAt   *time.Time    `json:"decided_at,omitempty" db:"decided_at"`
}

// RequestFilter narrows ListRequests. Empty fields match everything.
type RequestFilter struct {
	RequesterID string
	Department  string
	Type        RequestType
	Status      RequestStatus
}

// Notification is a message addressed to one member.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Message   string    `json:"message" db:"message"`
	IsRead    bool      `json:"is_read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RootIdentity is the creator account permanently bound to god/Poseidon.
type RootIdentity struct {
	ID    string
	Email string
}

// Matches reports whether id or email belongs to the root identity.
func (r RootIdentity) Matches(id, email string) bool {
	if r.ID != "" && id != "" && r.ID == id {
		return true
	}
	return r.Email != "" && email != "" && strings.EqualFold(r.Email, strings.TrimSpace(email))
}

// Standing is the derived authority of an identity.
type Standing struct {
	UserID            string  `json:"user_id"`
	Email             string  `json:"email"`
	Rank              Rank    `json:"rank"`
	SubRank           SubRank `json:"sub_rank,omitempty"`
	Department        string  `json:"department,omitempty"`
	RoleTitle         string  `json:"role_title,omitempty"`
	IsRoot            bool    `json:"is_root"`
	IsGod             bool    `json:"is_god"`
	IsDepartmentHead  bool    `json:"is_department_head"`
	IsAstroPrivileged bool    `json:"is_astro_privileged"`
	IsPresident       bool    `json:"is_president"`
}
