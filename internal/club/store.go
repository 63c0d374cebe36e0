package club

import (
	"context"
	"time"
)

// Store persists profiles, admin requests and notifications.
type Store interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
	FindProfileByEmail(ctx context.Context, email string) (Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	// EnsureProfile inserts p unless a profile with the same id exists and
	// returns the stored row and whether it was created.
	EnsureProfile(ctx context.Context, p Profile) (Profile, bool, error)
	SaveProfile(ctx context.Context, p Profile) (Profile, error)
	DeleteProfile(ctx context.Context, id string) error
	CountRank(ctx context.Context, rank Rank) (int, error)

	CreateRequest(ctx context.Context, r AdminRequest) (AdminRequest, error)
	GetRequest(ctx context.Context, id string) (AdminRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]AdminRequest, error)
	// ApplyDecision moves a Pending request to its terminal status and writes
	// the profile change and the requester's notification with it. Either all
	// of it is stored or none of it. It returns ErrConflict when the request
	// is no longer Pending.
	ApplyDecision(ctx context.Context, d Decision) (DecisionResult, error)

	CreateNotification(ctx context.Context, n Notification) (Notification, error)
	ListNotifications(ctx context.Context, userID string) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// Decision is the complete outcome of approving or rejecting a request.
type Decision struct {
	RequestID  string
	Status     RequestStatus
	ApprovedBy string
	At         time.Time
	// Profile replaces the requester's profile when set.
	Profile      *Profile
	Notification Notification
}

// DecisionResult holds the rows written by ApplyDecision.
type DecisionResult struct {
	Request      AdminRequest
	Profile      *Profile
	Notification Notification
}
