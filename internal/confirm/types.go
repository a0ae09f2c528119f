package confirm

import "time"

// Status of a pending confirmation. The only transition is
// unconfirmed -> confirmed, and it is terminal.
type Status string

const (
	StatusUnconfirmed Status = "unconfirmed"
	StatusConfirmed   Status = "confirmed"
)

// Outcome of a button press.
type Outcome string

const (
	OutcomeNotFound         Outcome = "not_found"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	OutcomeConfirmed        Outcome = "confirmed"
)

// Pending is one forwarded message awaiting manual confirmation, keyed by the
// token minted at forward time.
type Pending struct {
	Token           string     `json:"token"`
	BindingID       string     `json:"binding_id"`
	SourceID        int64      `json:"source_id"`
	TargetID        int64      `json:"target_id"`
	SourceMessageID int        `json:"source_message_id"`
	TargetMessageID int        `json:"target_message_id"`
	Identity        string     `json:"identity"`
	FullText        string     `json:"full_text"`
	IsEdit          bool       `json:"is_edit"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ConfirmedBy     string     `json:"confirmed_by,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
}

// Button labels and press acknowledgments shown to operators.
const (
	UnconfirmedLabel = "❌ غير مجرب"
	ConfirmedLabel   = "✅ مجرب (تم حفظه في الفلتر)"

	ackConfirmed = "✅ تم حفظ الرقم في الفلتر - لن يتم إرساله مرة أخرى"
	ackAlready   = "⚠️ تم تجربة هذه الرسالة مسبقاً"
	ackNotFound  = "❌ هذه الرسالة غير موجودة في النظام"
	ackFailed    = "❌ حدث خطأ، حاول مرة أخرى"
)
