package models

import (
	"gorm.io/gorm"
)

// Статусы очереди.
const (
	QueueStatusActive = "Active"
	QueueStatusPaused = "Paused"
	QueueStatusClosed = "Closed"
)

type Queue struct {
	gorm.Model
	UserID                 uint   `gorm:"index;not null"` // Владелец очереди
	User                   User   `gorm:"foreignKey:UserID"`
	Name                   string `gorm:"not null"`
	Description            string
	JoinCode               string `gorm:"uniqueIndex;not null"` // Код для входа, выдаётся один раз при создании и не меняется
	Status                 string `gorm:"not null;default:Active"`
	MaxCapacity            int    `gorm:"default:100"` // Лимит одновременно ожидающих (Waiting + Notified)
	MaxPartySize           int    `gorm:"default:1"`   // Максимальный размер компании на одну позицию
	EstimatedWaitPerPerson int    `gorm:"default:5"`   // Базовая оценка минут на человека, задаётся владельцем
	CurrentQueueSize       int    `gorm:"default:0"`   // Кол-во активных записей, поддерживается операциями ядра
	TotalServedToday       int    `gorm:"default:0"`
	IsActive               bool   `gorm:"default:true"` // false — очередь удалена (мягкое удаление)
}
