package memory

import "time"

// Status is the lifecycle state of a decision.
type Status string

// Outcome is what became of a decision once it was acted on.
type Outcome string

const (
	StatusProposed    Status = "proposed"
	StatusImplemented Status = "implemented"

	OutcomeUnknown    Outcome = "unknown"
	OutcomeSuccessful Outcome = "successful"
	OutcomeFailed     Outcome = "failed"
)

var validStatuses = map[Status]bool{
	StatusProposed:    true,
	StatusImplemented: true,
}

var validOutcomes = map[Outcome]bool{
	OutcomeUnknown:    true,
	OutcomeSuccessful: true,
	OutcomeFailed:     true,
}

// Option is one alternative that was considered for a decision.
type Option struct {
	Name        string   `json:"name" validate:"notblank"`
	Description string   `json:"description,omitempty"`
	Pros        []string `json:"pros,omitempty"`
	Cons        []string `json:"cons,omitempty"`
	RiskLevel   string   `json:"risk_level,omitempty"`
	Effort      string   `json:"effort,omitempty"`
}

// DecisionRecord is one documented choice. Everything except Status,
// Outcome and UpdatedAt is immutable once persisted.
type DecisionRecord struct {
	ID            string            `json:"id"`
	Project       string            `json:"project"`
	Title         string            `json:"title"`
	Context       string            `json:"context"`
	ChosenOption  string            `json:"chosen_option"`
	Rationale     string            `json:"rationale,omitempty"`
	Options       []Option          `json:"options,omitempty"`
	DecisionMaker string            `json:"decision_maker,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Domain        string            `json:"domain"`
	Status        Status            `json:"status"`
	Outcome       Outcome           `json:"outcome"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Seq           int64             `json:"seq"`
	Size          int64             `json:"size"`
}

// Text is the indexable text of the record.
func (d *DecisionRecord) Text() string {
	text := d.Title + "\n" + d.Context + "\n" + d.ChosenOption + "\n" + d.Rationale + "\n" + d.Domain
	for _, o := range d.Options {
		text += "\n" + o.Name
	}
	return text
}

// DecisionInput holds the caller-supplied fields of a new decision.
type DecisionInput struct {
	Title         string            `json:"title" validate:"notblank"`
	Context       string            `json:"context" validate:"notblank"`
	ChosenOption  string            `json:"chosen_option" validate:"notblank"`
	Rationale     string            `json:"rationale"`
	Options       []Option          `json:"options" validate:"dive"`
	DecisionMaker string            `json:"decision_maker"`
	Metadata      map[string]string `json:"metadata"`
	Domain        string            `json:"domain"`
	Status        Status            `json:"status" validate:"omitempty,oneof=proposed implemented"`
	Outcome       Outcome           `json:"outcome" validate:"omitempty,oneof=unknown successful failed"`
}

// ConversationRecord is one query/response exchange kept for traceability.
type ConversationRecord struct {
	ID            string    `json:"id"`
	Project       string    `json:"project"`
	Query         string    `json:"query"`
	Response      string    `json:"response"`
	ReferencedIDs []string  `json:"referenced_ids,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Seq           int64     `json:"seq"`
	Size          int64     `json:"size"`
}

// ConversationInput holds the caller-supplied fields of a conversation.
type ConversationInput struct {
	Query         string   `json:"query" validate:"notblank"`
	Response      string   `json:"response" validate:"notblank"`
	ReferencedIDs []string `json:"referenced_ids" validate:"dive,notblank"`
}

// Stats summarizes a project memory.
type Stats struct {
	Project       string          `json:"project"`
	Decisions     int             `json:"decisions"`
	Conversations int             `json:"conversations"`
	StoredBytes   int64           `json:"stored_bytes"`
	BudgetBytes   int64           `json:"budget_bytes"`
	Encrypted     bool            `json:"encrypted"`
	Version       uint64          `json:"version"`
	Outcomes      map[Outcome]int `json:"outcomes"`
	Domains       map[string]int  `json:"domains"`
}

// decisionPayload is the persisted (optionally sealed) body of a decision.
type decisionPayload struct {
	Title         string            `json:"title"`
	Context       string            `json:"context"`
	ChosenOption  string            `json:"chosen_option"`
	Rationale     string            `json:"rationale,omitempty"`
	Options       []Option          `json:"options,omitempty"`
	DecisionMaker string            `json:"decision_maker,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Domain        string            `json:"domain,omitempty"`
}

type conversationPayload struct {
	Query         string   `json:"query"`
	Response      string   `json:"response"`
	ReferencedIDs []string `json:"referenced_ids,omitempty"`
}
