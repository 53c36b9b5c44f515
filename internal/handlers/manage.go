package handlers

import (
	"net/http"
	"strconv"
	"time"
	"waitq/internal/core"
	"waitq/internal/models"
	"waitq/internal/response"
	"waitq/internal/storage"

	"github.com/gin-gonic/gin"
)

type CreateQueueRequest struct {
	Name                   string `json:"name" binding:"required"`
	Description            string `json:"description"`
	MaxCapacity            int    `json:"max_capacity"`
	MaxPartySize           int    `json:"max_party_size"`
	EstimatedWaitPerPerson int    `json:"estimated_wait_per_person"`
}

// CreatedQueueResponse — созданная очередь вместе с кодом входа.
type CreatedQueueResponse struct {
	Message  string `json:"message"`
	QueueID  uint   `json:"queue_id"`
	JoinCode string `json:"join_code"`
}

// CreateQueueHandler обрабатывает создание очереди
// @Summary		Создание очереди
// @Description	Создаёт очередь и выдаёт код входа. Код привязан к очереди навсегда
// @Tags			manage
// @Accept			json
// @Produce		json
// @Param			queue	body		CreateQueueRequest	true	"Параметры очереди"
// @Security		BearerAuth
// @Success		201	{object}	CreatedQueueResponse	"Очередь создана"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/manage/queues [post]
func CreateQueueHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	var req CreateQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	queue, err := core.CreateQueue(userID, core.CreateQueueParams{
		Name:                   req.Name,
		Description:            req.Description,
		MaxCapacity:            req.MaxCapacity,
		MaxPartySize:           req.MaxPartySize,
		EstimatedWaitPerPerson: req.EstimatedWaitPerPerson,
	})
	if err != nil {
		respondCoreError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreatedQueueResponse{
		Message:  "Очередь успешно создана",
		QueueID:  queue.ID,
		JoinCode: queue.JoinCode,
	})
}

// ManagedQueueItem — очередь в списке владельца.
type ManagedQueueItem struct {
	QueueID          uint   `json:"queue_id"`
	Name             string `json:"name"`
	JoinCode         string `json:"join_code"`
	Status           string `json:"status"`
	CurrentSize      int    `json:"current_size"`
	MaxCapacity      int    `json:"max_capacity"`
	TotalServedToday int    `json:"total_served_today"`
}

// GetMyQueuesHandler обрабатывает запрос списка очередей владельца
// @Summary		Мои очереди
// @Description	Возвращает очереди текущего пользователя, включая приостановленные
// @Tags			manage
// @Accept			json
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		ManagedQueueItem	"Список очередей"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/manage/queues [get]
func GetMyQueuesHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	var queues []models.Queue
	if err := storage.DB.
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		Find(&queues).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки очередей",
			Details: err.Error(),
		})
		return
	}

	items := make([]ManagedQueueItem, 0, len(queues))
	for _, q := range queues {
		items = append(items, ManagedQueueItem{
			QueueID:          q.ID,
			Name:             q.Name,
			JoinCode:         q.JoinCode,
			Status:           q.Status,
			CurrentSize:      q.CurrentQueueSize,
			MaxCapacity:      q.MaxCapacity,
			TotalServedToday: q.TotalServedToday,
		})
	}

	c.JSON(http.StatusOK, items)
}

// ManagedEntryItem — запись очереди в панели оператора.
type ManagedEntryItem struct {
	EntryID              uint       `json:"entry_id"`
	Name                 string     `json:"name"`
	Surname              string     `json:"surname"`
	PositionNumber       int        `json:"position_number"`
	PartySize            int        `json:"party_size"`
	Status               string     `json:"status"`
	EstimatedWaitMinutes int        `json:"estimated_wait_minutes"`
	JoinedAt             time.Time  `json:"joined_at"`
	NotifiedAt           *time.Time `json:"notified_at,omitempty"`
	ArrivedAt            *time.Time `json:"arrived_at,omitempty"`
	Notes                string     `json:"notes,omitempty"`
}

// QueueDetailResponse — состояние очереди со всеми активными записями.
type QueueDetailResponse struct {
	QueueID          uint               `json:"queue_id"`
	Name             string             `json:"name"`
	Description      string             `json:"description,omitempty"`
	JoinCode         string             `json:"join_code"`
	Status           string             `json:"status"`
	CurrentSize      int                `json:"current_size"`
	MaxCapacity      int                `json:"max_capacity"`
	MaxPartySize     int                `json:"max_party_size"`
	TotalServedToday int                `json:"total_served_today"`
	Entries          []ManagedEntryItem `json:"entries"`
}

// GetQueueDetailHandler обрабатывает запрос состояния очереди владельцем
// @Summary		Состояние очереди
// @Description	Очередь с активными записями в порядке позиций
// @Tags			manage
// @Accept			json
// @Produce		json
// @Param			id	path		string	true	"ID очереди"
// @Security		BearerAuth
// @Success		200	{object}	QueueDetailResponse	"Состояние очереди"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_QUEUE_ID)"
// @Failure		403	{object}	response.ErrorResponse	"Очередь чужая (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/manage/queues/{id} [get]
func GetQueueDetailHandler(c *gin.Context) {
	userID := c.GetUint("userID")
	queueID, ok := parseQueueID(c)
	if !ok {
		return
	}

	var queue models.Queue
	if err := storage.DB.Where("id = ? AND is_active = ?", queueID, true).First(&queue).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "QUEUE_NOT_FOUND",
			Message: "Очередь не найдена",
		})
		return
	}
	if queue.UserID != userID {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "NOT_OWNER",
			Message: "Очередь принадлежит другому пользователю",
		})
		return
	}

	var entries []models.QueueEntry
	if err := storage.DB.Preload("User").
		Where("queue_id = ? AND status IN ?", queueID,
			[]string{models.EntryStatusWaiting, models.EntryStatusNotified}).
		Order("position_number ASC").
		Find(&entries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки записей очереди",
			Details: err.Error(),
		})
		return
	}

	items := make([]ManagedEntryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, ManagedEntryItem{
			EntryID:              e.ID,
			Name:                 e.User.Name,
			Surname:              e.User.Surname,
			PositionNumber:       e.PositionNumber,
			PartySize:            e.PartySize,
			Status:               e.Status,
			EstimatedWaitMinutes: e.EstimatedWaitMinutes,
			JoinedAt:             e.JoinedAt,
			NotifiedAt:           e.NotifiedAt,
			ArrivedAt:            e.ArrivedAt,
			Notes:                e.Notes,
		})
	}

	c.JSON(http.StatusOK, QueueDetailResponse{
		QueueID:          queue.ID,
		Name:             queue.Name,
		Description:      queue.Description,
		JoinCode:         queue.JoinCode,
		Status:           queue.Status,
		CurrentSize:      queue.CurrentQueueSize,
		MaxCapacity:      queue.MaxCapacity,
		MaxPartySize:     queue.MaxPartySize,
		TotalServedToday: queue.TotalServedToday,
		Entries:          items,
	})
}

type EditQueueRequest struct {
	Name                   string  `json:"name"`
	Description            *string `json:"description"`
	MaxCapacity            int     `json:"max_capacity"`
	MaxPartySize           int     `json:"max_party_size"`
	EstimatedWaitPerPerson int     `json:"estimated_wait_per_person"`
}

// EditQueueHandler обрабатывает изменение параметров очереди
// @Summary		Изменение очереди
// @Description	Обновляет название, описание и лимиты. Уменьшение вместимости не выгоняет уже стоящих
// @Tags			manage
// @Accept			json
// @Produce		json
// @Param			id		path		string				true	"ID очереди"
// @Param			queue	body		EditQueueRequest	true	"Изменяемые поля"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Очередь обновлена"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_QUEUE_ID, VALIDATION_ERROR)"
// @Failure		403	{object}	response.ErrorResponse	"Очередь чужая (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/manage/queues/{id} [put]
func EditQueueHandler(c *gin.Context) {
	userID := c.GetUint("userID")
	queueID, ok := parseQueueID(c)
	if !ok {
		return
	}

	var req EditQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	err := core.EditQueue(queueID, userID, core.EditQueueParams{
		Name:                   req.Name,
		Description:            req.Description,
		MaxCapacity:            req.MaxCapacity,
		MaxPartySize:           req.MaxPartySize,
		EstimatedWaitPerPerson: req.EstimatedWaitPerPerson,
	})
	if err != nil {
		respondCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Очередь обновлена"})
}

// PauseQueueHandler приостанавливает приём в очередь
// @Summary		Приостановка очереди
// @Description	Переводит очередь в статус Paused, новые участники не принимаются
// @Tags			manage
// @Accept			json
// @Produce		json
// @Param			id	path		string	true	"ID очереди"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Очередь приостановлена"
// @Failure		403	{object}	response.ErrorResponse	"Очередь чужая (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Router			/api/manage/queues/{id}/pause [post]
func PauseQueueHandler(c *gin.Context) {
	setQueueStatus(c, models.QueueStatusPaused, "Очередь приостановлена")
}

// ResumeQueueHandler возобновляет приём в очередь
// @Summary		Возобновление очереди
// @Description	Возвращает очередь в статус Active
// @Tags			manage
// @Accept			json
// @Produce		json
// @Param			id	path		string	true	"ID очереди"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Очередь возобновлена"
// @Failure		403	{object}	response.ErrorResponse	"Очередь чужая (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Router			/api/manage/queues/{id}/resume [post]
func ResumeQueueHandler(c *gin.Context) {
	setQueueStatus(c, models.QueueStatusActive, "Очередь возобновлена")
}

func setQueueStatus(c *gin.Context, status, message string) {
	userID := c.GetUint("userID")
	queueID, ok := parseQueueID(c)
	if !ok {
		return
	}

	if err := core.SetQueueStatus(queueID, userID, status); err != nil {
		respondCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse{Message: message})
}

// CloseQueueHandler закрывает и удаляет очередь
// @Summary		Закрытие очереди
// @Description	Закрывает очередь навсегда (мягкое удаление, история сохраняется). Повторное закрытие — не ошибка
// @Tags			manage
// @Accept			json
// @Produce		json
// @Param			id	path		string	true	"ID очереди"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Очередь закрыта"
// @Failure		403	{object}	response.ErrorResponse	"Очередь чужая (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Router			/api/manage/queues/{id} [delete]
func CloseQueueHandler(c *gin.Context) {
	userID := c.GetUint("userID")
	queueID, ok := parseQueueID(c)
	if !ok {
		return
	}

	if err := core.CloseQueue(queueID, userID); err != nil {
		respondCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Очередь закрыта"})
}

// CalledEntryResponse — вызванный участник.
type CalledEntryResponse struct {
	Message        string `json:"message"`
	EntryID        uint   `json:"entry_id"`
	Name           string `json:"name"`
	Surname        string `json:"surname"`
	PositionNumber int    `json:"position_number"`
	PartySize      int    `json:"party_size"`
}

// CallNextHandler вызывает следующего участника
// @Summary		Вызов следующего
// @Description	Вызывает ожидающего с наименьшим номером позиции (строго по порядку) и отправляет ему уведомление
// @Tags			manage
// @Accept			json
// @Produce		json
// @Param			id	path		string	true	"ID очереди"
// @Security		BearerAuth
// @Success		200	{object}	CalledEntryResponse	"Вызванный участник"
// @Failure		400	{object}	response.ErrorResponse	"Никто не ждёт (NO_ONE_WAITING)"
// @Failure		403	{object}	response.ErrorResponse	"Очередь чужая (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Очередь занята (QUEUE_BUSY)"
// @Router			/api/manage/queues/{id}/call-next [post]
func CallNextHandler(c *gin.Context) {
	userID := c.GetUint("userID")
	queueID, ok := parseQueueID(c)
	if !ok {
		return
	}

	entry, err := core.CallNext(queueID, userID)
	if err != nil {
		respondCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, CalledEntryResponse{
		Message:        "Участник вызван",
		EntryID:        entry.ID,
		Name:           entry.User.Name,
		Surname:        entry.User.Surname,
		PositionNumber: entry.PositionNumber,
		PartySize:      entry.PartySize,
	})
}

// MarkServedHandler завершает обслуживание участника
// @Summary		Отметка «обслужен»
// @Description	Завершает запись, обновляет счётчики и историю. Повторная отметка по той же записи отклоняется
// @Tags			manage
// @Accept			json
// @Produce		json
// @Param			id			path	string	true	"ID очереди"
// @Param			entryId	path	string	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Участник обслужен"
// @Failure		400	{object}	response.ErrorResponse	"Недопустимый переход (INVALID_TRANSITION, WRONG_QUEUE)"
// @Failure		403	{object}	response.ErrorResponse	"Очередь чужая (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь или запись не найдена (QUEUE_NOT_FOUND, ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Очередь занята (QUEUE_BUSY)"
// @Router			/api/manage/queues/{id}/entries/{entryId}/serve [post]
func MarkServedHandler(c *gin.Context) {
	entryAction(c, core.MarkServed, "Участник обслужен")
}

// MarkNoShowHandler отмечает неявку вызванного участника
// @Summary		Отметка «не пришёл»
// @Description	Помечает вызванного участника, который так и не подошёл
// @Tags			manage
// @Accept			json
// @Produce		json
// @Param			id			path	string	true	"ID очереди"
// @Param			entryId	path	string	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Неявка зафиксирована"
// @Failure		400	{object}	response.ErrorResponse	"Недопустимый переход (INVALID_TRANSITION, WRONG_QUEUE)"
// @Failure		403	{object}	response.ErrorResponse	"Очередь чужая (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь или запись не найдена (QUEUE_NOT_FOUND, ENTRY_NOT_FOUND)"
// @Router			/api/manage/queues/{id}/entries/{entryId}/no-show [post]
func MarkNoShowHandler(c *gin.Context) {
	entryAction(c, core.MarkNoShow, "Неявка зафиксирована")
}

// MarkArrivedHandler отмечает, что вызванный участник подошёл
// @Summary		Отметка «подошёл»
// @Description	Фиксирует подтверждение присутствия после вызова. Статус записи не меняется
// @Tags			manage
// @Accept			json
// @Produce		json
// @Param			id			path	string	true	"ID очереди"
// @Param			entryId	path	string	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse	"Присутствие отмечено"
// @Failure		400	{object}	response.ErrorResponse	"Недопустимый переход (INVALID_TRANSITION, WRONG_QUEUE)"
// @Failure		403	{object}	response.ErrorResponse	"Очередь чужая (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь или запись не найдена (QUEUE_NOT_FOUND, ENTRY_NOT_FOUND)"
// @Router			/api/manage/queues/{id}/entries/{entryId}/arrived [post]
func MarkArrivedHandler(c *gin.Context) {
	entryAction(c, core.MarkArrived, "Присутствие отмечено")
}

func entryAction(c *gin.Context, fn func(queueID, entryID, ownerID uint) error, message string) {
	userID := c.GetUint("userID")
	queueID, ok := parseQueueID(c)
	if !ok {
		return
	}

	entryID, err := strconv.Atoi(c.Param("entryId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_ENTRY_ID",
			Message: "Неверный идентификатор записи",
		})
		return
	}

	if err := fn(queueID, uint(entryID), userID); err != nil {
		respondCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse{Message: message})
}

func parseQueueID(c *gin.Context) (uint, bool) {
	queueID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_QUEUE_ID",
			Message: "Неверный идентификатор очереди",
		})
		return 0, false
	}
	return uint(queueID), true
}
