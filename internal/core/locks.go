package core

import (
	"sync"
	"time"
)

// Сколько ждём освобождения замка очереди, прежде чем вернуть ErrQueueBusy.
const lockWaitTimeout = 3 * time.Second

// queueLock — замок одной очереди. Слот ёмкостью 1 играет роль мьютекса,
// который можно ждать с таймаутом. refs считает держателей и ожидающих,
// чтобы запись в таблице можно было убрать, когда она никому не нужна.
type queueLock struct {
	slot chan struct{}
	refs int
}

// lockTable выдаёт замки по идентификатору очереди. Замки создаются лениво
// при первом обращении и удаляются, когда последний пользователь уходит.
// Взаимное исключение действует в пределах одной очереди: операции над
// разными очередями друг друга не блокируют.
type lockTable struct {
	mu    sync.Mutex
	locks map[uint]*queueLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[uint]*queueLock)}
}

var queueLocks = newLockTable()

// Acquire захватывает замок очереди queueID, ожидая не дольше timeout.
// Возвращает функцию освобождения либо ErrQueueBusy.
func (t *lockTable) Acquire(queueID uint, timeout time.Duration) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[queueID]
	if !ok {
		l = &queueLock{slot: make(chan struct{}, 1)}
		t.locks[queueID] = l
	}
	l.refs++
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.slot <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-l.slot
				t.drop(queueID, l)
			})
		}
		return release, nil
	case <-timer.C:
		t.drop(queueID, l)
		return nil, ErrQueueBusy
	}
}

func (t *lockTable) drop(queueID uint, l *queueLock) {
	t.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, queueID)
	}
	t.mu.Unlock()
}
