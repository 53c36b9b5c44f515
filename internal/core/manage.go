package core

import (
	"errors"
	"time"

	"waitq/internal/models"
	"waitq/internal/storage"
	"waitq/internal/ws"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateQueueParams — параметры новой очереди.
type CreateQueueParams struct {
	Name                   string
	Description            string
	MaxCapacity            int
	MaxPartySize           int
	EstimatedWaitPerPerson int
}

// EditQueueParams — изменяемые владельцем поля. Нулевые значения
// пропускаются. Код входа не меняется никогда.
type EditQueueParams struct {
	Name                   string
	Description            *string
	MaxCapacity            int
	MaxPartySize           int
	EstimatedWaitPerPerson int
}

// CreateQueue создаёт очередь с уникальным кодом входа. Код выдаётся один
// раз и навсегда привязан к очереди.
func CreateQueue(ownerID uint, p CreateQueueParams) (*models.Queue, error) {
	queue := models.Queue{
		UserID:                 ownerID,
		Name:                   p.Name,
		Description:            p.Description,
		JoinCode:               uuid.NewString(),
		Status:                 models.QueueStatusActive,
		MaxCapacity:            p.MaxCapacity,
		MaxPartySize:           p.MaxPartySize,
		EstimatedWaitPerPerson: p.EstimatedWaitPerPerson,
		IsActive:               true,
	}
	if queue.MaxCapacity <= 0 {
		queue.MaxCapacity = 100
	}
	if queue.MaxPartySize <= 0 {
		queue.MaxPartySize = 1
	}
	if queue.EstimatedWaitPerPerson <= 0 {
		queue.EstimatedWaitPerPerson = 5
	}
	if err := storage.DB.Create(&queue).Error; err != nil {
		return nil, err
	}

	storage.InvalidateOpenQueues()
	ws.HubInstance.PublishQueueUpdate(queue.ID, "queue_created")
	return &queue, nil
}

// EditQueue обновляет параметры очереди. Уменьшение вместимости не выгоняет
// уже ожидающих сверх нового лимита — оно влияет только на будущие входы.
func EditQueue(queueID, ownerID uint, p EditQueueParams) error {
	err := withQueue(queueID, func(tx *gorm.DB) error {
		queue, err := loadOwnedQueue(tx, queueID, ownerID)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"updated_at": time.Now()}
		if p.Name != "" {
			updates["name"] = p.Name
		}
		if p.Description != nil {
			updates["description"] = *p.Description
		}
		if p.MaxCapacity > 0 {
			updates["max_capacity"] = p.MaxCapacity
		}
		if p.MaxPartySize > 0 {
			updates["max_party_size"] = p.MaxPartySize
		}
		if p.EstimatedWaitPerPerson > 0 {
			updates["estimated_wait_per_person"] = p.EstimatedWaitPerPerson
		}
		return tx.Model(queue).Updates(updates).Error
	})
	if err != nil {
		return err
	}

	storage.InvalidateOpenQueues()
	ws.HubInstance.PublishQueueUpdate(queueID, "queue_updated")
	return nil
}

// SetQueueStatus переводит очередь между Active и Paused. Пауза закрывает
// вход для новых участников, но уже стоящие никуда не деваются.
func SetQueueStatus(queueID, ownerID uint, status string) error {
	if status != models.QueueStatusActive && status != models.QueueStatusPaused {
		return ErrInvalidTransition
	}
	err := withQueue(queueID, func(tx *gorm.DB) error {
		queue, err := loadOwnedQueue(tx, queueID, ownerID)
		if err != nil {
			return err
		}
		return tx.Model(queue).Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return err
	}

	storage.InvalidateOpenQueues()
	ws.HubInstance.PublishQueueUpdate(queueID, "queue_updated")
	return nil
}

// CloseQueue закрывает очередь и помечает её удалённой. Записи не трогаем:
// история сохраняется. Операция идемпотентна, повторное закрытие — не ошибка.
func CloseQueue(queueID, ownerID uint) error {
	err := withQueue(queueID, func(tx *gorm.DB) error {
		var queue models.Queue
		if err := tx.First(&queue, queueID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQueueNotFound
			}
			return err
		}
		if queue.UserID != ownerID {
			return ErrNotOwner
		}
		if queue.Status == models.QueueStatusClosed && !queue.IsActive {
			return nil
		}
		return tx.Model(&queue).Updates(map[string]interface{}{
			"status":     models.QueueStatusClosed,
			"is_active":  false,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return err
	}

	storage.InvalidateOpenQueues()
	ws.HubInstance.PublishQueueUpdate(queueID, "queue_closed")
	return nil
}
