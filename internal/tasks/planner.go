package tasks

import (
	"log"

	"waitq/internal/core"
	"waitq/internal/models"
	"waitq/internal/storage"

	"github.com/robfig/cron/v3"
)

// ResetDailyCounters обнуляет счётчик обслуженных за день у всех очередей.
func ResetDailyCounters() {
	if err := storage.DB.Model(&models.Queue{}).
		Where("total_served_today > 0").
		Update("total_served_today", 0).Error; err != nil {
		log.Println("Ошибка сброса дневных счётчиков:", err)
		return
	}
	log.Println("Дневные счётчики обслуженных сброшены.")
}

// InitScheduler инициализирует планировщик cron-задач.
func InitScheduler() *cron.Cron {
	c := cron.New(cron.WithSeconds())

	// Уборка гостевых учёток без активных записей, каждый день в 04:00.
	_, err := c.AddFunc("0 0 4 * * *", core.PurgeIdleGuests)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи PurgeIdleGuests:", err)
	}

	// Сброс счётчика «обслужено сегодня» в полночь.
	_, err = c.AddFunc("0 0 0 * * *", ResetDailyCounters)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи ResetDailyCounters:", err)
	}

	c.Start()
	log.Println("Cron-планировщик запущен.")
	return c
}
