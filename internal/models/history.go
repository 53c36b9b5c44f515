package models

import (
	"time"

	"gorm.io/gorm"
)

// Итоговые статусы истории.
const (
	HistoryStatusCompleted = "Completed"
	HistoryStatusCancelled = "Cancelled"
	HistoryStatusNoShow    = "NoShow"
)

// QueueHistory — итоговая строка по завершённой записи. Пишется один раз,
// после создания не изменяется. Используется эстиматором для оценки скорости
// обслуживания.
type QueueHistory struct {
	gorm.Model
	QueueID      uint `gorm:"index;not null"`
	UserID       uint `gorm:"index;not null"`
	QueueEntryID uint `gorm:"index"`
	JoinedAt     time.Time
	ServedAt     *time.Time `gorm:"index"`
	WaitMinutes  int        // Фактическое время ожидания в минутах
	Status       string     `gorm:"index;not null"`
	Date         time.Time  `gorm:"index"`
}
