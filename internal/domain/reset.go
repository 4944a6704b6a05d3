package domain

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// ParseRequestStatus accepts the three statuses; an empty string or "all"
// yields an empty status meaning no filter.
func ParseRequestStatus(s string) (RequestStatus, bool) {
	switch RequestStatus(s) {
	case RequestPending, RequestApproved, RequestDenied:
		return RequestStatus(s), true
	case "", "all":
		return "", true
	default:
		return "", false
	}
}

type ResetRequest struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Email      string        `json:"email"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}
