package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
	"waitq/internal/core"
	"waitq/internal/models"
	"waitq/internal/response"
	"waitq/internal/storage"

	"github.com/gin-gonic/gin"
)

var ctx = context.Background()

// OpenQueueItem — элемент публичного списка открытых очередей.
type OpenQueueItem struct {
	QueueID       uint   `json:"queue_id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
	Status        string `json:"status"`
	CurrentSize   int    `json:"current_size"`
	MaxCapacity   int    `json:"max_capacity"`
	EstimatedWait int    `json:"estimated_wait_minutes"` // Оценка для нового участника
}

// GetOpenQueuesHandler обрабатывает запрос списка открытых очередей
// @Summary		Список открытых очередей
// @Description	Возвращает все активные очереди, результат кэшируется в Redis
// @Tags			queue
// @Accept			json
// @Produce		json
// @Success		200	{array}		OpenQueueItem	"Список очередей"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/queues [get]
func GetOpenQueuesHandler(c *gin.Context) {
	cacheKey := storage.OpenQueuesCacheKey

	// Проверка кэша
	if storage.RedisClient != nil {
		cached, err := storage.RedisClient.Get(ctx, cacheKey).Result()
		if err == nil && cached != "" {
			var items []OpenQueueItem
			if err := json.Unmarshal([]byte(cached), &items); err == nil {
				c.JSON(http.StatusOK, items)
				return
			}
		}
	}

	var queues []models.Queue
	if err := storage.DB.Preload("User").
		Where("is_active = ? AND status = ?", true, models.QueueStatusActive).
		Order("created_at DESC").
		Find(&queues).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки списка очередей",
			Details: err.Error(),
		})
		return
	}

	items := make([]OpenQueueItem, 0, len(queues))
	for _, q := range queues {
		items = append(items, OpenQueueItem{
			QueueID:       q.ID,
			Name:          q.Name,
			Description:   q.Description,
			CompanyName:   q.User.CompanyName,
			Status:        q.Status,
			CurrentSize:   q.CurrentQueueSize,
			MaxCapacity:   q.MaxCapacity,
			EstimatedWait: core.Predict(storage.DB, q.ID, q.CurrentQueueSize),
		})
	}

	// Кэшируем ненадолго: состояние очередей меняется постоянно.
	if storage.RedisClient != nil {
		if data, err := json.Marshal(items); err == nil {
			storage.RedisClient.Set(ctx, cacheKey, data, 30*time.Second)
		}
	}

	c.JSON(http.StatusOK, items)
}

// SearchQueuesHandler обрабатывает поиск очередей
// @Summary		Поиск очередей
// @Description	Ищет среди активных очередей по подстроке в названии или описании
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			q	query		string	true	"Поисковый запрос"
// @Success		200	{array}		OpenQueueItem	"Найденные очереди"
// @Failure		400	{object}	response.ErrorResponse	"Пустой запрос (EMPTY_QUERY)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/queues/search [get]
func SearchQueuesHandler(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "EMPTY_QUERY",
			Message: "Введите поисковый запрос",
		})
		return
	}

	pattern := "%" + query + "%"
	var queues []models.Queue
	if err := storage.DB.Preload("User").
		Where("is_active = ? AND status = ?", true, models.QueueStatusActive).
		Where("name ILIKE ? OR description ILIKE ?", pattern, pattern).
		Order("created_at DESC").
		Find(&queues).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка поиска очередей",
			Details: err.Error(),
		})
		return
	}

	items := make([]OpenQueueItem, 0, len(queues))
	for _, q := range queues {
		items = append(items, OpenQueueItem{
			QueueID:       q.ID,
			Name:          q.Name,
			Description:   q.Description,
			CompanyName:   q.User.CompanyName,
			Status:        q.Status,
			CurrentSize:   q.CurrentQueueSize,
			MaxCapacity:   q.MaxCapacity,
			EstimatedWait: core.Predict(storage.DB, q.ID, q.CurrentQueueSize),
		})
	}

	c.JSON(http.StatusOK, items)
}

// QueueByCodeResponse — информация об очереди для присоединяющегося.
type QueueByCodeResponse struct {
	QueueID       uint   `json:"queue_id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Status        string `json:"status"`
	CurrentSize   int    `json:"current_size"`
	MaxCapacity   int    `json:"max_capacity"`
	MaxPartySize  int    `json:"max_party_size"`
	EstimatedWait int    `json:"estimated_wait_minutes"`
}

// GetQueueByCodeHandler обрабатывает запрос очереди по коду входа
// @Summary		Очередь по коду входа
// @Description	Ищет очередь по коду. Числовые идентификаторы здесь не принимаются: код — единственный публичный способ найти очередь
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			code	path		string	true	"Код входа в очередь"
// @Success		200	{object}	QueueByCodeResponse	"Информация об очереди"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Router			/api/queues/code/{code} [get]
func GetQueueByCodeHandler(c *gin.Context) {
	code := c.Param("code")

	queue, ok := findQueueByCode(c, code)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, QueueByCodeResponse{
		QueueID:       queue.ID,
		Name:          queue.Name,
		Description:   queue.Description,
		Status:        queue.Status,
		CurrentSize:   queue.CurrentQueueSize,
		MaxCapacity:   queue.MaxCapacity,
		MaxPartySize:  queue.MaxPartySize,
		EstimatedWait: core.Predict(storage.DB, queue.ID, queue.CurrentQueueSize),
	})
}

// findQueueByCode ищет живую очередь строго по коду входа. Поиск по числовому
// id намеренно не поддерживается, чтобы очереди нельзя было перебирать.
func findQueueByCode(c *gin.Context, code string) (*models.Queue, bool) {
	var queue models.Queue
	if err := storage.DB.
		Where("join_code = ? AND is_active = ?", code, true).
		First(&queue).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "QUEUE_NOT_FOUND",
			Message: "Очередь не найдена",
		})
		return nil, false
	}
	return &queue, true
}

type JoinRequest struct {
	Name             string `json:"name" binding:"required"`
	Surname          string `json:"surname" binding:"required"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	PartySize        int    `json:"party_size"`
	NotificationPref string `json:"notification_pref"`
	Notes            string `json:"notes"`
}

// JoinResponse — результат входа в очередь.
type JoinResponse struct {
	Message              string `json:"message"`
	EntryID              uint   `json:"entry_id"`
	PositionNumber       int    `json:"position_number"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
}

// JoinQueueHandler обрабатывает запрос на вступление в очередь
// @Summary		Вступление в очередь
// @Description	Ставит посетителя в очередь по коду входа. Регистрация не требуется: для гостей создаётся временная учётка
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			code	path		string		true	"Код входа в очередь"
// @Param			user	body		JoinRequest	true	"Данные участника"
// @Success		200	{object}	JoinResponse	"Успешное вступление с номером позиции"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR, QUEUE_INACTIVE, QUEUE_AT_CAPACITY, INVALID_PARTY_SIZE, OWNER_CANNOT_JOIN)"
// @Failure		404	{object}	response.ErrorResponse	"Очередь не найдена (QUEUE_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Очередь занята (QUEUE_BUSY)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/queues/code/{code}/join [post]
func JoinQueueHandler(c *gin.Context) {
	code := c.Param("code")

	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	if req.PartySize == 0 {
		req.PartySize = 1
	}
	if req.NotificationPref == "" {
		req.NotificationPref = models.NotifyPrefSMS
	}
	if req.NotificationPref == models.NotifyPrefEmail && req.Email == "" {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Для email-уведомлений нужно указать email",
		})
		return
	}
	if (req.NotificationPref == models.NotifyPrefSMS || req.NotificationPref == models.NotifyPrefBoth) && req.Phone == "" {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Для SMS-уведомлений нужно указать телефон",
		})
		return
	}

	queue, ok := findQueueByCode(c, code)
	if !ok {
		return
	}

	entry, err := core.Join(queue.ID, core.JoinParams{
		Name:             req.Name,
		Surname:          req.Surname,
		Email:            req.Email,
		Phone:            req.Phone,
		PartySize:        req.PartySize,
		NotificationPref: req.NotificationPref,
		Notes:            req.Notes,
	})
	if err != nil {
		respondCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, JoinResponse{
		Message:              "Вступление в очередь прошло успешно",
		EntryID:              entry.ID,
		PositionNumber:       entry.PositionNumber,
		EstimatedWaitMinutes: entry.EstimatedWaitMinutes,
	})
}

// EntryPositionResponse — текущее положение участника в очереди.
type EntryPositionResponse struct {
	EntryID              uint       `json:"entry_id"`
	QueueID              uint       `json:"queue_id"`
	QueueName            string     `json:"queue_name"`
	Status               string     `json:"status"`
	PositionNumber       int        `json:"position_number"` // Выданный номер, не меняется
	CurrentPosition      int        `json:"current_position"` // Живая позиция с учётом ушедших
	PeopleAhead          int        `json:"people_ahead"`
	EstimatedWaitMinutes int        `json:"estimated_wait_minutes"`
	JoinedAt             time.Time  `json:"joined_at"`
	NotifiedAt           *time.Time `json:"notified_at,omitempty"`
}

// GetEntryPositionHandler обрабатывает запрос позиции участника
// @Summary		Моя позиция в очереди
// @Description	Возвращает живую позицию записи: номера не переназначаются, позиция пересчитывается по оставшимся впереди
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			id	path		string	true	"ID записи в очереди"
// @Success		200	{object}	EntryPositionResponse	"Текущее положение"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_ENTRY_ID)"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/entries/{id} [get]
func GetEntryPositionHandler(c *gin.Context) {
	entryID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_ENTRY_ID",
			Message: "Неверный идентификатор записи",
		})
		return
	}

	var entry models.QueueEntry
	if err := storage.DB.Preload("Queue").First(&entry, entryID).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "ENTRY_NOT_FOUND",
			Message: "Запись в очереди не найдена",
		})
		return
	}

	currentPosition := 0
	peopleAhead := 0
	if entry.IsActiveStatus() {
		rank, err := core.CurrentRank(storage.DB, &entry)
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{
				Code:    "DB_ERROR",
				Message: "Ошибка вычисления позиции",
				Details: err.Error(),
			})
			return
		}
		currentPosition = rank
		peopleAhead = rank - 1
	}

	c.JSON(http.StatusOK, EntryPositionResponse{
		EntryID:              entry.ID,
		QueueID:              entry.QueueID,
		QueueName:            entry.Queue.Name,
		Status:               entry.Status,
		PositionNumber:       entry.PositionNumber,
		CurrentPosition:      currentPosition,
		PeopleAhead:          peopleAhead,
		EstimatedWaitMinutes: entry.EstimatedWaitMinutes,
		JoinedAt:             entry.JoinedAt,
		NotifiedAt:           entry.NotifiedAt,
	})
}

// LeaveQueueHandler обрабатывает запрос на выход из очереди
// @Summary		Выход из очереди
// @Description	Отменяет запись участника (до или после вызова) и уведомляет остальных
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			id	path		string	true	"ID записи в очереди"
// @Success		200	{object}	response.SuccessResponse	"Успешный выход из очереди"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_ENTRY_ID, ALREADY_FINISHED)"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Очередь занята (QUEUE_BUSY)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/entries/{id}/leave [post]
func LeaveQueueHandler(c *gin.Context) {
	entryID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_ENTRY_ID",
			Message: "Неверный идентификатор записи",
		})
		return
	}

	if err := core.Leave(uint(entryID)); err != nil {
		respondCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessResponse{
		Message: "Вы успешно вышли из очереди",
	})
}
