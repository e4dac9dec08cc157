package models

import (
	"time"

	"gorm.io/datatypes"
)

// Status is the triage state of a flagged event.
type Status string

const (
	StatusNew      Status = "new"
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusApplied  Status = "applied"
	StatusDeleted  Status = "deleted"
)

// Statuses lists every valid flagged event status.
var Statuses = []Status{StatusNew, StatusPending, StatusResolved, StatusApplied, StatusDeleted}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Reason records why a message was flagged.
type Reason string

const (
	ReasonAutoHook       Reason = "auto_hook"
	ReasonAction         Reason = "action"
	ReasonManual         Reason = "manual"
	ReasonThumbsDown     Reason = "thumbs_down"
	ReasonBelowThreshold Reason = "below_threshold"
)

// Reasons lists every valid flag reason.
var Reasons = []Reason{ReasonAutoHook, ReasonAction, ReasonManual, ReasonThumbsDown, ReasonBelowThreshold}

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	for _, v := range Reasons {
		if r == v {
			return true
		}
	}
	return false
}

// ResolutionType is the kind of remedy chosen for a pending flag.
type ResolutionType string

const (
	ResolutionQnA    ResolutionType = "qna"
	ResolutionIntent ResolutionType = "intent"
)

// ResolutionTypes lists every valid resolution type.
var ResolutionTypes = []ResolutionType{ResolutionQnA, ResolutionIntent}

// Valid reports whether t is a known resolution type.
func (t ResolutionType) Valid() bool {
	for _, v := range ResolutionTypes {
		if t == v {
			return true
		}
	}
	return false
}

// FlaggedEvent is a conversation message the NLU engine misunderstood,
// awaiting triage. Column names follow the camelCase schema of the
// misunderstood table.
type FlaggedEvent struct {
	ID               uint            `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	EventID          string          `gorm:"column:eventId;size:255;not null" json:"eventId"`
	BotID            string          `gorm:"column:botId;size:255;not null;index:idx_misunderstood_scope,priority:1" json:"botId"`
	Language         string          `gorm:"column:language;size:16;not null;index:idx_misunderstood_scope,priority:2" json:"language"`
	Preview          string          `gorm:"column:preview;type:text;not null" json:"preview"`
	Reason           Reason          `gorm:"column:reason;size:32;not null;check:chk_misunderstood_reason,reason IN ('auto_hook','action','manual','thumbs_down','below_threshold')" json:"reason"`
	Status           Status          `gorm:"column:status;size:16;not null;default:new;index:idx_misunderstood_scope,priority:3;check:chk_misunderstood_status,status IN ('new','pending','resolved','applied','deleted')" json:"status"`
	ResolutionType   *ResolutionType `gorm:"column:resolutionType;size:16" json:"resolutionType"`
	Resolution       *string         `gorm:"column:resolution;type:text" json:"resolution"`
	ResolutionParams datatypes.JSON  `gorm:"column:resolutionParams" json:"resolutionParams"`
	CreatedAt        time.Time       `gorm:"column:createdAt;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"column:updatedAt;autoUpdateTime;index" json:"updatedAt"`
}

// TableName pins the table name regardless of naming strategy.
func (FlaggedEvent) TableName() string { return "misunderstood" }
