package handlers

import (
	"errors"
	"net/http"
	"waitq/internal/core"
	"waitq/internal/response"

	"github.com/gin-gonic/gin"
)

// respondCoreError переводит ошибки ядра очереди в HTTP-ответы с кодами API.
func respondCoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrQueueNotFound):
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "QUEUE_NOT_FOUND",
			Message: "Очередь не найдена",
		})
	case errors.Is(err, core.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "ENTRY_NOT_FOUND",
			Message: "Запись в очереди не найдена",
		})
	case errors.Is(err, core.ErrQueueInactive):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "QUEUE_INACTIVE",
			Message: "Очередь не принимает новых участников",
		})
	case errors.Is(err, core.ErrQueueAtCapacity):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "QUEUE_AT_CAPACITY",
			Message: "Очередь заполнена, попробуйте позже",
		})
	case errors.Is(err, core.ErrInvalidPartySize):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_PARTY_SIZE",
			Message: "Недопустимый размер компании",
		})
	case errors.Is(err, core.ErrOwnerJoin):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "OWNER_CANNOT_JOIN",
			Message: "Нельзя встать в собственную очередь",
		})
	case errors.Is(err, core.ErrNoOneWaiting):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "NO_ONE_WAITING",
			Message: "В очереди нет ожидающих",
		})
	case errors.Is(err, core.ErrWrongQueue):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "WRONG_QUEUE",
			Message: "Запись относится к другой очереди",
		})
	case errors.Is(err, core.ErrAlreadyFinished):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "ALREADY_FINISHED",
			Message: "Запись уже завершена",
		})
	case errors.Is(err, core.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_TRANSITION",
			Message: "Недопустимый переход статуса записи",
		})
	case errors.Is(err, core.ErrNotOwner):
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "NOT_OWNER",
			Message: "Очередь принадлежит другому пользователю",
		})
	case errors.Is(err, core.ErrQueueBusy):
		c.JSON(http.StatusConflict, response.ErrorResponse{
			Code:    "QUEUE_BUSY",
			Message: "Очередь сейчас занята, повторите запрос",
		})
	default:
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Внутренняя ошибка сервера",
			Details: err.Error(),
		})
	}
}
