package models

import (
	"time"

	"gorm.io/gorm"
)

// Статусы записи в очереди. Терминальные: Served, Cancelled, NoShow.
const (
	EntryStatusWaiting   = "Waiting"
	EntryStatusNotified  = "Notified"
	EntryStatusServed    = "Served"
	EntryStatusCancelled = "Cancelled"
	EntryStatusNoShow    = "NoShow"
)

// Предпочтения по уведомлениям.
const (
	NotifyPrefSMS   = "SMS"
	NotifyPrefEmail = "Email"
	NotifyPrefBoth  = "Both"
)

type QueueEntry struct {
	gorm.Model
	QueueID              uint       `gorm:"index;not null"`
	Queue                Queue      `gorm:"foreignKey:QueueID"`
	UserID               uint       `gorm:"index;not null"`
	User                 User       `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"` // Записи гостя уходят вместе с его учёткой, история остаётся
	PositionNumber       int        `gorm:"index;not null"` // Номер позиции, выдаётся один раз при входе и никогда не переназначается
	PartySize            int        `gorm:"default:1"`
	Status               string     `gorm:"index;not null;default:Waiting"`
	JoinedAt             time.Time  `gorm:"not null"`
	NotifiedAt           *time.Time // Время вызова (nil — ещё не вызывали)
	ServedAt             *time.Time
	ArrivedAt            *time.Time // Отметка "подошёл" после вызова, статус не меняет
	EstimatedWaitMinutes int        `gorm:"default:0"` // Пересчитывается эстиматором
	NotificationPref     string     `gorm:"default:SMS"`
	Notes                string
}

// IsActiveStatus сообщает, занимает ли запись место в очереди.
func (e *QueueEntry) IsActiveStatus() bool {
	return e.Status == EntryStatusWaiting || e.Status == EntryStatusNotified
}
