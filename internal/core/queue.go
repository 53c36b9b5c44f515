package core

import (
	"errors"
	"log"
	"time"

	"waitq/internal/models"
	"waitq/internal/notify"
	"waitq/internal/storage"
	"waitq/internal/ws"

	"gorm.io/gorm"
)

// Скольким ближайшим ожидающим рассылаем обновление позиции.
const upNextCount = 3

var activeStatuses = []string{models.EntryStatusWaiting, models.EntryStatusNotified}

// JoinParams — данные участника при входе в очередь.
type JoinParams struct {
	Name             string
	Surname          string
	Email            string
	Phone            string
	PartySize        int
	NotificationPref string
	Notes            string
}

// withQueue выполняет fn под замком очереди внутри транзакции. Все мутации
// записей и счётчиков одной очереди проходят только через эту обёртку:
// номер позиции и проверка вместимости небезопасны при параллельных
// запросах без взаимного исключения.
func withQueue(queueID uint, fn func(tx *gorm.DB) error) error {
	release, err := queueLocks.Acquire(queueID, lockWaitTimeout)
	if err != nil {
		return err
	}
	defer release()
	return storage.DB.Transaction(fn)
}

// loadQueue загружает живую очередь или возвращает ErrQueueNotFound.
func loadQueue(tx *gorm.DB, queueID uint) (*models.Queue, error) {
	var queue models.Queue
	if err := tx.Where("id = ? AND is_active = ?", queueID, true).First(&queue).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQueueNotFound
		}
		return nil, err
	}
	return &queue, nil
}

// loadOwnedQueue — то же, но с проверкой владельца.
func loadOwnedQueue(tx *gorm.DB, queueID, ownerID uint) (*models.Queue, error) {
	queue, err := loadQueue(tx, queueID)
	if err != nil {
		return nil, err
	}
	if queue.UserID != ownerID {
		return nil, ErrNotOwner
	}
	return queue, nil
}

// countActive считает записи, занимающие место в очереди (Waiting + Notified).
func countActive(tx *gorm.DB, queueID uint) (int, error) {
	var count int64
	err := tx.Model(&models.QueueEntry{}).
		Where("queue_id = ? AND status IN ?", queueID, activeStatuses).
		Count(&count).Error
	return int(count), err
}

// syncQueueSize записывает актуальный счётчик активных записей в очередь.
// Вызывается внутри транзакции после каждой мутации записей, так что
// инвариант current_queue_size == числу активных записей держится всегда.
func syncQueueSize(tx *gorm.DB, queueID uint) error {
	count, err := countActive(tx, queueID)
	if err != nil {
		return err
	}
	return tx.Model(&models.Queue{}).Where("id = ?", queueID).
		Updates(map[string]interface{}{
			"current_queue_size": count,
			"updated_at":         time.Now(),
		}).Error
}

// Join ставит участника в очередь. Позиция выдаётся как максимум позиций
// активных записей плюс один и больше никогда не переназначается; проверка
// вместимости выполняется в той же транзакции, что и вставка.
func Join(queueID uint, p JoinParams) (*models.QueueEntry, error) {
	var entry *models.QueueEntry
	err := withQueue(queueID, func(tx *gorm.DB) error {
		queue, err := loadQueue(tx, queueID)
		if err != nil {
			return err
		}
		if queue.Status != models.QueueStatusActive {
			return ErrQueueInactive
		}
		if p.PartySize < 1 || p.PartySize > queue.MaxPartySize {
			return ErrInvalidPartySize
		}

		user, err := findOrCreateJoiner(tx, p)
		if err != nil {
			return err
		}
		if user.ID == queue.UserID {
			return ErrOwnerJoin
		}

		active, err := countActive(tx, queueID)
		if err != nil {
			return err
		}
		if active >= queue.MaxCapacity {
			return ErrQueueAtCapacity
		}

		var maxPosition int
		row := tx.Model(&models.QueueEntry{}).
			Where("queue_id = ? AND status IN ?", queueID, activeStatuses).
			Select("COALESCE(MAX(position_number),0)").Row()
		if err := row.Scan(&maxPosition); err != nil {
			return err
		}

		e := models.QueueEntry{
			QueueID:              queueID,
			UserID:               user.ID,
			PositionNumber:       maxPosition + 1,
			PartySize:            p.PartySize,
			Status:               models.EntryStatusWaiting,
			JoinedAt:             time.Now(),
			EstimatedWaitMinutes: Predict(tx, queueID, active),
			NotificationPref:     p.NotificationPref,
			Notes:                p.Notes,
		}
		if err := tx.Create(&e).Error; err != nil {
			return err
		}
		if err := holdUserEntry(tx, user.ID); err != nil {
			return err
		}
		if err := syncQueueSize(tx, queueID); err != nil {
			return err
		}

		e.User = *user
		entry = &e
		return nil
	})
	if err != nil {
		return nil, err
	}

	ws.HubInstance.PublishQueueUpdate(queueID, "user_joined")
	return entry, nil
}

// CallNext вызывает ожидающего с наименьшим номером позиции (строгий FIFO,
// без приоритетов) и переводит его в статус Notified. Счётчик очереди не
// меняется: вызванный всё ещё занимает место.
func CallNext(queueID, ownerID uint) (*models.QueueEntry, error) {
	var called *models.QueueEntry
	err := withQueue(queueID, func(tx *gorm.DB) error {
		if _, err := loadOwnedQueue(tx, queueID, ownerID); err != nil {
			return err
		}

		var e models.QueueEntry
		err := tx.Preload("User").
			Where("queue_id = ? AND status = ?", queueID, models.EntryStatusWaiting).
			Order("position_number ASC").
			First(&e).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoOneWaiting
			}
			return err
		}

		now := time.Now()
		if err := tx.Model(&e).Updates(map[string]interface{}{
			"status":      models.EntryStatusNotified,
			"notified_at": &now,
		}).Error; err != nil {
			return err
		}
		e.Status = models.EntryStatusNotified
		e.NotifiedAt = &now
		called = &e
		return nil
	})
	if err != nil {
		return nil, err
	}

	go notify.Send(called.UserID, called.ID, models.NotificationTypeCalled,
		"Подошла ваша очередь! Пожалуйста, подойдите ко входу.")
	go notifyUpNext(queueID)
	go RefreshEstimates(queueID)
	ws.HubInstance.PublishQueueUpdate(queueID, "user_called")
	return called, nil
}

// MarkServed завершает обслуживание записи: статус Served, строка истории,
// декремент счётчика и инкремент обслуженных за день. Повторный вызов по уже
// завершённой записи отклоняется, двойного учёта не бывает.
func MarkServed(queueID, entryID, ownerID uint) error {
	err := withQueue(queueID, func(tx *gorm.DB) error {
		queue, err := loadOwnedQueue(tx, queueID, ownerID)
		if err != nil {
			return err
		}

		entry, err := loadEntry(tx, queueID, entryID)
		if err != nil {
			return err
		}
		// Обычно обслуживают вызванного, но допускаем и ожидающего:
		// оператор мог принять человека без предварительного вызова.
		if entry.Status != models.EntryStatusNotified && entry.Status != models.EntryStatusWaiting {
			return ErrInvalidTransition
		}

		now := time.Now()
		if err := tx.Model(entry).Updates(map[string]interface{}{
			"status":    models.EntryStatusServed,
			"served_at": &now,
		}).Error; err != nil {
			return err
		}
		if err := writeHistory(tx, entry, models.HistoryStatusCompleted, &now); err != nil {
			return err
		}
		if err := tx.Model(&models.Queue{}).Where("id = ?", queueID).
			Update("total_served_today", queue.TotalServedToday+1).Error; err != nil {
			return err
		}
		if err := releaseUserEntry(tx, entry.UserID); err != nil {
			return err
		}
		return syncQueueSize(tx, queueID)
	})
	if err != nil {
		return err
	}

	// Рассылка позиций идёт после фиксации транзакции: ближайшие ожидающие
	// получают позиции уже без обслуженного участника.
	go notifyUpNext(queueID)
	go RefreshEstimates(queueID)
	ws.HubInstance.PublishQueueUpdate(queueID, "user_served")
	return nil
}

// MarkNoShow помечает вызванного, но не подошедшего участника.
func MarkNoShow(queueID, entryID, ownerID uint) error {
	err := withQueue(queueID, func(tx *gorm.DB) error {
		if _, err := loadOwnedQueue(tx, queueID, ownerID); err != nil {
			return err
		}

		entry, err := loadEntry(tx, queueID, entryID)
		if err != nil {
			return err
		}
		if entry.Status != models.EntryStatusNotified {
			return ErrInvalidTransition
		}

		if err := tx.Model(entry).
			Update("status", models.EntryStatusNoShow).Error; err != nil {
			return err
		}
		if err := writeHistory(tx, entry, models.HistoryStatusNoShow, nil); err != nil {
			return err
		}
		if err := releaseUserEntry(tx, entry.UserID); err != nil {
			return err
		}
		return syncQueueSize(tx, queueID)
	})
	if err != nil {
		return err
	}

	go notifyUpNext(queueID)
	go RefreshEstimates(queueID)
	ws.HubInstance.PublishQueueUpdate(queueID, "user_no_show")
	return nil
}

// MarkArrived отмечает, что вызванный участник подтвердил присутствие.
// Статус не меняется, отметка нужна только оператору.
func MarkArrived(queueID, entryID, ownerID uint) error {
	err := withQueue(queueID, func(tx *gorm.DB) error {
		if _, err := loadOwnedQueue(tx, queueID, ownerID); err != nil {
			return err
		}

		entry, err := loadEntry(tx, queueID, entryID)
		if err != nil {
			return err
		}
		if entry.Status != models.EntryStatusNotified {
			return ErrInvalidTransition
		}

		now := time.Now()
		return tx.Model(entry).Update("arrived_at", &now).Error
	})
	if err != nil {
		return err
	}

	ws.HubInstance.PublishQueueUpdate(queueID, "user_arrived")
	return nil
}

// Leave — добровольный выход из очереди (до или после вызова). Запись
// переходит в Cancelled, гостевая учётка вычищается, если у неё не осталось
// активных записей.
func Leave(entryID uint) error {
	// Сначала выясняем очередь записи, чтобы знать, какой замок брать.
	var probe models.QueueEntry
	if err := storage.DB.First(&probe, entryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEntryNotFound
		}
		return err
	}
	queueID := probe.QueueID

	err := withQueue(queueID, func(tx *gorm.DB) error {
		entry, err := loadEntry(tx, queueID, entryID)
		if err != nil {
			return err
		}
		if !entry.IsActiveStatus() {
			return ErrAlreadyFinished
		}

		if err := tx.Model(entry).
			Update("status", models.EntryStatusCancelled).Error; err != nil {
			return err
		}
		if err := writeHistory(tx, entry, models.HistoryStatusCancelled, nil); err != nil {
			return err
		}
		if err := releaseUserEntry(tx, entry.UserID); err != nil {
			return err
		}
		if err := syncQueueSize(tx, queueID); err != nil {
			return err
		}
		// Чистим гостевую учётку по её счётчику активных записей: строка
		// пользователя блокируется, поэтому Join в любой другой очереди
		// либо уже поднял счётчик, либо дождётся завершения чистки.
		return purgeGuestIfIdle(tx, entry.UserID)
	})
	if err != nil {
		return err
	}

	go notifyUpNext(queueID)
	go RefreshEstimates(queueID)
	ws.HubInstance.PublishQueueUpdate(queueID, "user_left")
	return nil
}

// loadEntry загружает запись и проверяет её принадлежность очереди.
func loadEntry(tx *gorm.DB, queueID, entryID uint) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := tx.First(&entry, entryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	if entry.QueueID != queueID {
		return nil, ErrWrongQueue
	}
	return &entry, nil
}

// writeHistory добавляет итоговую строку по завершённой записи. История
// неизменяемая: её читает только эстиматор.
func writeHistory(tx *gorm.DB, entry *models.QueueEntry, status string, servedAt *time.Time) error {
	waitMinutes := int(time.Since(entry.JoinedAt).Minutes())
	if servedAt != nil {
		waitMinutes = int(servedAt.Sub(entry.JoinedAt).Minutes())
	}
	history := models.QueueHistory{
		QueueID:      entry.QueueID,
		UserID:       entry.UserID,
		QueueEntryID: entry.ID,
		JoinedAt:     entry.JoinedAt,
		ServedAt:     servedAt,
		WaitMinutes:  waitMinutes,
		Status:       status,
		Date:         time.Now(),
	}
	return tx.Create(&history).Error
}

// upNextMessage возвращает текст уведомления для живой позиции 1..3.
// Для больших позиций текста нет: таких участников не уведомляем.
func upNextMessage(rank int) (string, bool) {
	switch rank {
	case 1:
		return "Вы следующий! Пожалуйста, будьте у входа.", true
	case 2:
		return "Перед вами один человек. Постарайтесь быть неподалёку.", true
	case 3:
		return "Перед вами два человека. Ваша очередь скоро подойдёт.", true
	}
	return "", false
}

// notifyUpNext шлёт обновление позиции ближайшим ожидающим (до трёх человек).
// Вызывается после фиксации перехода; текст выбирается по живой позиции, а не
// по порядковому номеру среди ожидающих: вызванный, но ещё не обслуженный
// участник продолжает занимать место впереди. Гостей без телефона
// пропускаем — им нечем доставить сообщение.
func notifyUpNext(queueID uint) {
	var entries []models.QueueEntry
	if err := storage.DB.Preload("User").
		Where("queue_id = ? AND status = ?", queueID, models.EntryStatusWaiting).
		Order("position_number ASC").
		Limit(upNextCount).
		Find(&entries).Error; err != nil {
		log.Println("Ошибка выборки ближайших ожидающих:", err)
		return
	}

	for _, e := range entries {
		if e.User.IsGuest && e.User.Phone == "" {
			continue
		}
		rank, err := CurrentRank(storage.DB, &e)
		if err != nil {
			log.Println("Ошибка расчёта живой позиции:", err)
			continue
		}
		msg, ok := upNextMessage(rank)
		if !ok {
			continue
		}
		notify.Send(e.UserID, e.ID, models.NotificationTypePositionUpdate, msg)
	}
}

// CurrentRank считает живую позицию записи: сколько активных записей имеют
// номер не больше её собственного. Номера не переназначаются, поэтому ранг
// сам сдвигается вперёд, когда впереди кто-то уходит.
func CurrentRank(db *gorm.DB, entry *models.QueueEntry) (int, error) {
	var rank int64
	err := db.Model(&models.QueueEntry{}).
		Where("queue_id = ? AND status IN ? AND position_number <= ?",
			entry.QueueID, activeStatuses, entry.PositionNumber).
		Count(&rank).Error
	return int(rank), err
}
