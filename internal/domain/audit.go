package domain

import "time"

// EscalationAudit is one durable row per escalation lifecycle event, so a
// restarted process can still answer "did step 3 fire for this order".
type EscalationAudit struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	EscalationID string    `gorm:"index;not null" json:"escalationId"`
	OrderID      string    `gorm:"index;not null" json:"orderId"`
	Target       string    `gorm:"not null" json:"target"`
	Flow         string    `gorm:"not null" json:"flow"`
	Event        string    `gorm:"not null" json:"event"` // started | step_fired | stopped | completed | failed
	StepIndex    int       `json:"stepIndex"`
	Channel      string    `json:"channel,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Data         JSONB     `gorm:"type:jsonb" json:"data,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (EscalationAudit) TableName() string { return "escalation_audits" }

// CallResultLog is the durable record of a call's terminal outcome.
type CallResultLog struct {
	CallID     string    `gorm:"primaryKey" json:"callId"`
	OrderID    string    `gorm:"index" json:"orderId,omitempty"`
	Purpose    string    `json:"purpose"`
	Outcome    string    `gorm:"not null" json:"outcome"`
	Details    JSONB     `gorm:"type:jsonb" json:"details,omitempty"`
	ReportedAt time.Time `gorm:"autoCreateTime" json:"reportedAt"`
}

func (CallResultLog) TableName() string { return "call_result_logs" }
