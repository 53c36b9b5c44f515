package models

import (
	"time"

	"gorm.io/gorm"
)

// Типы уведомлений.
const (
	NotificationTypeCalled         = "Called"
	NotificationTypePositionUpdate = "PositionUpdate"
	NotificationTypeReminder       = "Reminder"
)

// Статусы доставки уведомления.
const (
	NotificationStatusPending = "Pending"
	NotificationStatusSent    = "Sent"
	NotificationStatusFailed  = "Failed"
	NotificationStatusSkipped = "Skipped"
)

// Notification — запись об отправке уведомления. Создаётся в статусе Pending
// независимо от того, удалась ли доставка.
type Notification struct {
	gorm.Model
	QueueEntryID uint   `gorm:"index;not null"`
	UserID       uint   `gorm:"index;not null"`
	Type         string `gorm:"not null"`
	Channel      string `gorm:"not null"` // SMS или Email
	Status       string `gorm:"not null;default:Pending"`
	Message      string `gorm:"not null"`
	SentAt       *time.Time
}
