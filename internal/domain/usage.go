package domain

import "time"

// CallType is the closed set of model call kinds recorded for cost accounting.
type CallType string

const (
	CallClassification CallType = "classification"
	CallConversation   CallType = "conversation"
	CallJobVetting     CallType = "job_vetting"
)

// CallTypes lists every valid call type in reporting order.
var CallTypes = []CallType{CallClassification, CallConversation, CallJobVetting}

func (c CallType) Valid() bool {
	switch c {
	case CallClassification, CallConversation, CallJobVetting:
		return true
	default:
		return false
	}
}

type Scope string

const (
	ScopeIn  Scope = "IN_SCOPE"
	ScopeOut Scope = "OUT_OF_SCOPE"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

type UsageEvent struct {
	SessionID     string    `json:"session_id"`
	Timestamp     time.Time `json:"timestamp"`
	CallType      CallType  `json:"call_type"`
	Scope         Scope     `json:"scope,omitempty"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	TotalTokens   int       `json:"total_tokens"`
	EstimatedCost float64   `json:"estimated_cost"`
	Model         string    `json:"model"`
	Outcome       string    `json:"outcome"`
}
