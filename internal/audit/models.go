package audit

import "time"

// Action names an audited domain action.
type Action string

const (
	ActionUserRegistered         Action = "user_registered"
	ActionLoginAttempted         Action = "login_attempted"
	ActionCredentialIssued       Action = "credential_issued"
	ActionCredentialVerified     Action = "credential_verified"
	ActionAirdropRequested       Action = "airdrop_requested"
	ActionReconciliationRequired Action = "reconciliation_required"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Action       Action    `json:"action"`
	UserID       string    `json:"userId,omitempty"`
	RequestID    string    `json:"requestId,omitempty"`
	CertID       string    `json:"certId,omitempty"`
	Title        string    `json:"title,omitempty"`
	Mint         string    `json:"mint,omitempty"`
	TokenAccount string    `json:"tokenAccount,omitempty"`
	Recipient    string    `json:"recipient,omitempty"`
	TxHash       string    `json:"txHash,omitempty"`
	Decision     string    `json:"decision,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// attrs flattens the non-empty fields for structured logging.
func (e Event) attrs() []any {
	out := []any{"audit_id", e.ID, "action", string(e.Action)}
	add := func(k, v string) {
		if v != "" {
			out = append(out, k, v)
		}
	}
	add("user_id", e.UserID)
	add("request_id", e.RequestID)
	add("cert_id", e.CertID)
	add("title", e.Title)
	add("mint", e.Mint)
	add("token_account", e.TokenAccount)
	add("recipient", e.Recipient)
	add("tx_hash", e.TxHash)
	add("decision", e.Decision)
	add("reason", e.Reason)
	return out
}
