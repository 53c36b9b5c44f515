package notify

import (
	"log"
	"time"

	"waitq/internal/models"
	"waitq/internal/storage"
)

// Provider — внешний канал доставки SMS. Ядро зависит только от контракта,
// реальная интеграция подключается при старте приложения.
type Provider interface {
	Send(phone, message string) error
}

// StubProvider вместо реальной отправки пишет сообщение в лог.
// Используется в разработке и в тестах.
type StubProvider struct{}

func (p *StubProvider) Send(phone, message string) error {
	log.Printf("SMS для %s: %s", phone, message)
	return nil
}

// ActiveProvider — провайдер, через который уходят уведомления.
var ActiveProvider Provider = &StubProvider{}

// Send создаёт запись об уведомлении и пытается доставить его через провайдера.
// Запись сохраняется независимо от результата доставки (Pending -> Sent /
// Failed / Skipped). Ошибки здесь только логируются: неудачная отправка не
// должна ломать операцию, которая её вызвала.
func Send(userID, entryID uint, kind, message string) {
	var user models.User
	if err := storage.DB.First(&user, userID).Error; err != nil {
		log.Println("Уведомление не отправлено, пользователь не найден:", err)
		return
	}

	channel := models.NotifyPrefSMS
	if user.Phone == "" {
		channel = models.NotifyPrefEmail
	}

	notification := models.Notification{
		QueueEntryID: entryID,
		UserID:       userID,
		Type:         kind,
		Channel:      channel,
		Status:       models.NotificationStatusPending,
		Message:      message,
	}
	if err := storage.DB.Create(&notification).Error; err != nil {
		log.Println("Ошибка сохранения уведомления:", err)
		return
	}

	// Отправляем только SMS: почтового канала пока нет, такие записи
	// помечаем как пропущенные.
	if user.Phone == "" {
		if err := storage.DB.Model(&notification).
			Update("status", models.NotificationStatusSkipped).Error; err != nil {
			log.Println("Ошибка обновления статуса уведомления:", err)
		}
		return
	}

	now := time.Now()
	status := models.NotificationStatusSent
	if err := ActiveProvider.Send(user.Phone, message); err != nil {
		log.Println("Ошибка отправки SMS:", err)
		status = models.NotificationStatusFailed
	}
	if err := storage.DB.Model(&notification).
		Updates(map[string]interface{}{"status": status, "sent_at": &now}).Error; err != nil {
		log.Println("Ошибка обновления статуса уведомления:", err)
	}
}
