package consultation

import "time"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusTrial     Status = "TRIAL"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Consultation struct {
	ID              string     `json:"id"`
	ClientID        string     `json:"clientId"`
	LawyerProfileID string     `json:"lawyerProfileId"`
	LawyerUserID    string     `json:"lawyerUserId"`
	Status          Status     `json:"status"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	TrialEndAt      *time.Time `json:"trialEndAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// IsParticipant reports whether userID is the client or the assigned lawyer.
func (c *Consultation) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.ClientID || userID == c.LawyerUserID)
}

// Counterparty returns the other participant, or "" for a non-participant.
func (c *Consultation) Counterparty(userID string) string {
	switch userID {
	case c.ClientID:
		return c.LawyerUserID
	case c.LawyerUserID:
		return c.ClientID
	default:
		return ""
	}
}

func (c *Consultation) Participants() []string {
	return []string{c.ClientID, c.LawyerUserID}
}

// TrialExpired reports whether the free trial ran out at now.
func (c *Consultation) TrialExpired(now time.Time) bool {
	return c.Status == StatusTrial && c.TrialEndAt != nil && now.After(*c.TrialEndAt)
}
