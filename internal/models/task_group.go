package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/docstack/docstack/internal/enum"
	"github.com/docstack/docstack/internal/utils"
)

// TaskGroup tracks a fan-out/join task set. Pending counts members that have
// not reached a terminal state yet; when it hits zero the join task is
// enqueued exactly once. The error task fires at most once, on the first
// member or join failure.
type TaskGroup struct {
	ID      string `gorm:"column:id;type:varchar(50);primaryKey"`
	Pending int    `gorm:"column:pending;not null"`
	Failed  int    `gorm:"column:failed;not null;default:0"`

	JoinType    string `gorm:"column:join_type;type:varchar(100);not null"`
	JoinPayload string `gorm:"column:join_payload;type:jsonb"`

	ErrorType    string `gorm:"column:error_type;type:varchar(100)"`
	ErrorPayload string `gorm:"column:error_payload;type:jsonb"`
	ErrorEmitted bool   `gorm:"column:error_emitted;not null;default:false"`

	Status enum.TaskStatus `gorm:"column:status;type:varchar(20);not null"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (TaskGroup) TableName() string {
	return "task_groups"
}

func (g *TaskGroup) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = utils.GenerateNanoIDWithPrefix("tgrp", 21)
	}
	g.CreatedAt = utils.Now()
	return nil
}

// TaskRecord is the durable status of a submitted task, surfaced via the
// task-status API. Terminal failures keep the underlying error text.
type TaskRecord struct {
	ID            string          `gorm:"column:id;type:varchar(50);primaryKey"`
	Type          string          `gorm:"column:type;type:varchar(100);index;not null"`
	GroupID       *string         `gorm:"column:group_id;type:varchar(50);index"`
	CorrelationID string          `gorm:"column:correlation_id;type:varchar(50);index"`
	Status        enum.TaskStatus `gorm:"column:status;type:varchar(20);index;not null"`
	Result        string          `gorm:"column:result;type:text"`
	Error         string          `gorm:"column:error;type:text"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (TaskRecord) TableName() string {
	return "task_records"
}
