package tickets

import (
	"strings"
	"time"

	"github.com/Oltking/hdticketdesk-sub002/internal/idgen"
)

// AgentCode authorizes a gate agent to check tickets in for one event.
// ActivatedAt is stamped on first use; CheckInCount and LastUsedAt update in
// the same transaction as each successful check-in.
type AgentCode struct {
	ID           string     `json:"id"`
	EventID      string     `json:"eventId"`
	Code         string     `json:"code"`
	Label        string     `json:"label,omitempty"` // e.g. "north gate"
	Active       bool       `json:"active"`
	ActivatedAt  *time.Time `json:"activatedAt,omitempty"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
	CheckInCount int64      `json:"checkInCount"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// NewAgentCode creates an active code for an event.
func NewAgentCode(eventID, label string) *AgentCode {
	return &AgentCode{
		ID:        idgen.WithPrefix("agt_"),
		EventID:   eventID,
		Code:      "AGT-" + strings.ToUpper(idgen.Hex(4)),
		Label:     label,
		Active:    true,
		CreatedAt: time.Now(),
	}
}
