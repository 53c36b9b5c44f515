package models

import (
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Name          string `gorm:"not null"`
	Surname       string `gorm:"not null"`
	Email         string `gorm:"uniqueIndex;not null"`
	PasswordHash  string `gorm:"not null"`
	Phone         string // Телефон для SMS-уведомлений (опционально)
	CompanyName   string // Название заведения, если пользователь публикует очереди
	IsGuest       bool   `gorm:"default:false;index"` // Гостевая запись, создаётся при входе в очередь без регистрации
	ActiveEntries int    `gorm:"default:0"`           // Число записей в статусах Waiting/Notified, ведётся в тех же транзакциях
}
