package core

import "errors"

// Ошибки операций над очередью. Обработчики переводят их в коды API.
var (
	ErrQueueNotFound     = errors.New("очередь не найдена")
	ErrQueueInactive     = errors.New("очередь не принимает новых участников")
	ErrQueueAtCapacity   = errors.New("очередь заполнена")
	ErrInvalidPartySize  = errors.New("недопустимый размер компании")
	ErrOwnerJoin         = errors.New("владелец не может вставать в собственную очередь")
	ErrNoOneWaiting      = errors.New("в очереди нет ожидающих")
	ErrEntryNotFound     = errors.New("запись в очереди не найдена")
	ErrWrongQueue        = errors.New("запись относится к другой очереди")
	ErrAlreadyFinished   = errors.New("запись уже в терминальном статусе")
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	ErrNotOwner          = errors.New("очередь принадлежит другому пользователю")
	ErrQueueBusy         = errors.New("очередь занята, попробуйте ещё раз")
)
