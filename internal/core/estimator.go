package core

import (
	"log"
	"math"
	"time"

	"waitq/internal/models"
	"waitq/internal/storage"

	"gorm.io/gorm"
)

const (
	// Сколько последних завершённых записей берём для оценки скорости обслуживания.
	historySampleSize = 10
	// Запасное значение, когда истории ещё мало (минут на человека).
	fallbackMinutesPerPerson = 5.0
)

// avgServiceMinutes — средний интервал между соседними завершениями в выборке.
// Выборка отсортирована по убыванию времени обслуживания. Это не среднее
// по отдельным записям: берём размах окна и делим на число интервалов.
func avgServiceMinutes(servedAt []time.Time) float64 {
	if len(servedAt) < 2 {
		return fallbackMinutesPerPerson
	}
	newest := servedAt[0]
	oldest := servedAt[len(servedAt)-1]
	total := newest.Sub(oldest).Minutes()
	return total / float64(len(servedAt)-1)
}

// PredictFromSamples считает оценку ожидания в минутах для rankAhead человек
// впереди по готовой выборке времён обслуживания.
func PredictFromSamples(servedAt []time.Time, rankAhead int) int {
	if rankAhead <= 0 {
		return 0
	}
	return int(math.Ceil(avgServiceMinutes(servedAt) * float64(rankAhead)))
}

// Predict оценивает время ожидания для позиции с rankAhead людьми впереди,
// опираясь на последние завершённые записи истории очереди.
func Predict(db *gorm.DB, queueID uint, rankAhead int) int {
	if rankAhead <= 0 {
		return 0
	}
	var samples []time.Time
	err := db.Model(&models.QueueHistory{}).
		Where("queue_id = ? AND status = ? AND served_at IS NOT NULL", queueID, models.HistoryStatusCompleted).
		Order("served_at DESC").
		Limit(historySampleSize).
		Pluck("served_at", &samples).Error
	if err != nil {
		log.Println("Ошибка выборки истории для оценки ожидания:", err)
		return PredictFromSamples(nil, rankAhead)
	}
	return PredictFromSamples(samples, rankAhead)
}

// RefreshEstimates пересчитывает оценку ожидания для всех ожидающих записей
// очереди в порядке возрастания позиций. Запускается после переходов,
// меняющих состав очереди; любые ошибки здесь только логируются и не влияют
// на вызвавшую операцию.
func RefreshEstimates(queueID uint) {
	var entries []models.QueueEntry
	if err := storage.DB.
		Where("queue_id = ? AND status = ?", queueID, models.EntryStatusWaiting).
		Order("position_number ASC").
		Find(&entries).Error; err != nil {
		log.Println("Ошибка загрузки записей для пересчёта оценок:", err)
		return
	}

	for i := range entries {
		// i-й ожидающий: впереди i ожидающих плюс тот, кого обслуживают сейчас.
		minutes := Predict(storage.DB, queueID, i+1)
		if err := storage.DB.Model(&entries[i]).
			Update("estimated_wait_minutes", minutes).Error; err != nil {
			log.Println("Ошибка обновления оценки ожидания:", err)
		}
	}
}
