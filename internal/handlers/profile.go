package handlers

import (
	"net/http"
	"time"
	"waitq/internal/core"
	"waitq/internal/models"
	"waitq/internal/response"
	"waitq/internal/storage"

	"github.com/gin-gonic/gin"
)

// UserEntryItem — активная запись пользователя с живой позицией.
type UserEntryItem struct {
	EntryID              uint      `json:"entry_id"`
	QueueID              uint      `json:"queue_id"`
	QueueName            string    `json:"queue_name"`
	Status               string    `json:"status"`
	PositionNumber       int       `json:"position_number"`
	CurrentPosition      int       `json:"current_position"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
	JoinedAt             time.Time `json:"joined_at"`
}

// GetUserEntriesHandler godoc
// @Summary		Мои очереди
// @Description	Активные записи текущего пользователя во всех очередях
// @Tags			profile
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		UserEntryItem	"Список записей"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/profile/entries [get]
func GetUserEntriesHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	var entries []models.QueueEntry
	if err := storage.DB.Preload("Queue").
		Where("user_id = ? AND status IN ?", userID,
			[]string{models.EntryStatusWaiting, models.EntryStatusNotified}).
		Order("joined_at ASC").
		Find(&entries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки записей пользователя",
			Details: err.Error(),
		})
		return
	}

	items := make([]UserEntryItem, 0, len(entries))
	for i := range entries {
		rank, err := core.CurrentRank(storage.DB, &entries[i])
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{
				Code:    "DB_ERROR",
				Message: "Ошибка вычисления позиции",
				Details: err.Error(),
			})
			return
		}
		items = append(items, UserEntryItem{
			EntryID:              entries[i].ID,
			QueueID:              entries[i].QueueID,
			QueueName:            entries[i].Queue.Name,
			Status:               entries[i].Status,
			PositionNumber:       entries[i].PositionNumber,
			CurrentPosition:      rank,
			EstimatedWaitMinutes: entries[i].EstimatedWaitMinutes,
			JoinedAt:             entries[i].JoinedAt,
		})
	}

	c.JSON(http.StatusOK, items)
}
