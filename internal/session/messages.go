package session

import (
	"fmt"

	"github.com/EricBell/profile-gpt/internal/domain"
)

const (
	ResetRequestedText = "Reset request received! We'll review your request and may reset your session."
	ResetPendingText   = "Your reset request is pending review. Please check back later."
	ScopeLimitText     = "You have asked too many off-topic questions. To request a reset, send a message with your email address."
)

// WarningText is sent once the out-of-scope count reaches the warning threshold.
func WarningText(name string) string {
	return fmt.Sprintf("You're straying away from %s's professional life too much. I'll cut you off if you continue.", name)
}

func SessionLimitText(total int) string {
	return fmt.Sprintf("You have reached the maximum of %d questions for this session. To request a session reset, send a message with your email address.", total)
}

func limitText(reason domain.CutoffReason, l domain.Limits) string {
	if reason == domain.CutoffTotalLimit {
		return SessionLimitText(l.Total)
	}
	return ScopeLimitText
}
