package friends

import "time"

// Status is the state of a friendship.
type Status string

const (
	StatusPending Status = "pending"
	StatusFriend  Status = "friend"
)

// Friendship links an unordered pair of users. One row exists per pair.
type Friendship struct {
	ID        string
	InviterID string
	InviteeID string
	Status    Status
	// BlockedBy is the user who blocked the other, if any.
	BlockedBy *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Other returns the member of the pair that is not userID.
func (f Friendship) Other(userID string) string {
	if f.InviterID == userID {
		return f.InviteeID
	}
	return f.InviterID
}

// Includes reports whether userID is a member of the pair.
func (f Friendship) Includes(userID string) bool {
	return f.InviterID == userID || f.InviteeID == userID
}

// Active reports whether the pair may transact with each other.
func (f Friendship) Active() bool {
	return f.Status == StatusFriend && f.BlockedBy == nil
}
