package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"
	"waitq/internal/core"
	"waitq/internal/handlers"
	"waitq/internal/models"
	"waitq/internal/storage"
	"waitq/internal/tasks"
	"waitq/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
)

func AuthMiddlewareTest() gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDStr := c.Request.Header.Get("X-Test-UserID")
		if userIDStr == "" {
			// Значение по умолчанию
			c.Set("userID", uint(1))
		} else {
			id, err := strconv.Atoi(userIDStr)
			if err != nil {
				c.Set("userID", uint(1))
			} else {
				c.Set("userID", uint(id))
			}
		}
		c.Next()
	}
}

func setupTestServer() *httptest.Server {
	key := os.Getenv("ENV_CHEK")
	if key == "" {
		fmt.Println("Подключение к .env")
		err := godotenv.Load("../.env")
		if err != nil {
			log.Fatal("Ошибка получения .env")
		}
	}

	storage.ConnectTestingDatabase()
	storage.DB.Exec("TRUNCATE TABLE users, queues, queue_entries, queue_histories, notifications RESTART IDENTITY CASCADE;")

	if err := storage.DB.AutoMigrate(
		&models.User{},
		&models.Queue{},
		&models.QueueEntry{},
		&models.QueueHistory{},
		&models.Notification{},
	); err != nil {
		log.Fatal("Ошибка при миграции... ", err.Error())
	}

	tasks.InitScheduler()

	go ws.HubInstance.Run()

	r := gin.Default()

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/register", handlers.Register)
		authGroup.POST("/refresh", handlers.RefreshToken)
	}

	public := r.Group("/api")
	{
		public.GET("/queues", handlers.GetOpenQueuesHandler)
		public.GET("/queues/search", handlers.SearchQueuesHandler)
		public.GET("/queues/code/:code", handlers.GetQueueByCodeHandler)
		public.POST("/queues/code/:code/join", handlers.JoinQueueHandler)
		public.GET("/entries/:id", handlers.GetEntryPositionHandler)
		public.POST("/entries/:id/leave", handlers.LeaveQueueHandler)
		public.GET("/queues/:id/ws", ws.QueueWebSocketHandler)
		public.GET("/ws", ws.GlobalWebSocketHandler)
	}

	manage := r.Group("/api/manage", AuthMiddlewareTest())
	{
		manage.POST("/queues", handlers.CreateQueueHandler)
		manage.GET("/queues", handlers.GetMyQueuesHandler)
		manage.GET("/queues/:id", handlers.GetQueueDetailHandler)
		manage.PUT("/queues/:id", handlers.EditQueueHandler)
		manage.DELETE("/queues/:id", handlers.CloseQueueHandler)
		manage.POST("/queues/:id/pause", handlers.PauseQueueHandler)
		manage.POST("/queues/:id/resume", handlers.ResumeQueueHandler)
		manage.POST("/queues/:id/call-next", handlers.CallNextHandler)
		manage.POST("/queues/:id/entries/:entryId/serve", handlers.MarkServedHandler)
		manage.POST("/queues/:id/entries/:entryId/no-show", handlers.MarkNoShowHandler)
		manage.POST("/queues/:id/entries/:entryId/arrived", handlers.MarkArrivedHandler)
	}

	return httptest.NewServer(r)
}

func createOwner(t *testing.T, email string) models.User {
	owner := models.User{
		Name:         "Мария",
		Surname:      "Смирнова",
		Email:        email,
		PasswordHash: "hashed123",
		CompanyName:  "Кофейня «Точка»",
	}
	err := storage.DB.Create(&owner).Error
	assert.NoError(t, err, "Ошибка создания владельца очереди")
	return owner
}

func joinQueue(t *testing.T, ts *httptest.Server, code, name, phone string) (int, map[string]interface{}) {
	t.Helper()
	body, _ := json.Marshal(map[string]interface{}{
		"name":    name,
		"surname": "Тестов",
		"phone":   phone,
	})
	res, err := http.Post(ts.URL+"/api/queues/code/"+code+"/join", "application/json", bytes.NewReader(body))
	assert.NoError(t, err, "Ошибка запроса join")
	defer res.Body.Close()

	var parsed map[string]interface{}
	json.NewDecoder(res.Body).Decode(&parsed)
	return res.StatusCode, parsed
}

func TestQueueFlow(t *testing.T) {
	ts := setupTestServer()
	defer ts.Close()

	owner := createOwner(t, fmt.Sprintf("owner_%d@example.com", time.Now().UnixNano()))

	// Очередь на двоих: третий участник не влезает.
	queue, err := core.CreateQueue(owner.ID, core.CreateQueueParams{
		Name:         "Тестовая очередь",
		MaxCapacity:  2,
		MaxPartySize: 1,
	})
	assert.NoError(t, err, "Ошибка создания очереди")
	assert.NotEmpty(t, queue.JoinCode, "Очередь должна получить код входа")

	// Подписываемся на события очереди.
	wsURL := "ws" + ts.URL[4:] + "/api/queues/" + strconv.Itoa(int(queue.ID)) + "/ws"
	wsConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.NoError(t, err, "Ошибка подключения к WS")
	defer wsConn.Close()

	// A и B занимают позиции 1 и 2.
	status, resA := joinQueue(t, ts, queue.JoinCode, "Анна", "+79990000001")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), resA["position_number"])

	status, resB := joinQueue(t, ts, queue.JoinCode, "Борис", "+79990000002")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), resB["position_number"])

	// C упирается в вместимость.
	status, resC := joinQueue(t, ts, queue.JoinCode, "Влад", "+79990000003")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "QUEUE_AT_CAPACITY", resC["code"])

	// WS-событие о входе.
	wsConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, wsMessage, err := wsConn.ReadMessage()
	assert.NoError(t, err, "Ошибка чтения WS сообщения")
	var wsMsg map[string]interface{}
	assert.NoError(t, json.Unmarshal(wsMessage, &wsMsg))
	assert.Equal(t, "user_joined", wsMsg["event_type"])

	// A выходит, счётчик уменьшается, но позиции не переиспользуются.
	entryA := uint(resA["entry_id"].(float64))
	res, err := http.Post(ts.URL+"/api/entries/"+strconv.Itoa(int(entryA))+"/leave", "application/json", nil)
	assert.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var reloaded models.Queue
	assert.NoError(t, storage.DB.First(&reloaded, queue.ID).Error)
	assert.Equal(t, 1, reloaded.CurrentQueueSize)

	status, resD := joinQueue(t, ts, queue.JoinCode, "Дарья", "+79990000004")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), resD["position_number"], "позиции никогда не выдаются повторно")

	// Повторный выход A отклоняется: гостевая учётка вычищена вместе с записью.
	res, err = http.Post(ts.URL+"/api/entries/"+strconv.Itoa(int(entryA))+"/leave", "application/json", nil)
	assert.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	// Вызов следующего: B — наименьшая позиция среди ожидающих.
	callURL := ts.URL + "/api/manage/queues/" + strconv.Itoa(int(queue.ID)) + "/call-next"
	req, _ := http.NewRequest("POST", callURL, nil)
	req.Header.Set("X-Test-UserID", fmt.Sprintf("%d", owner.ID))
	callRes, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	defer callRes.Body.Close()
	assert.Equal(t, http.StatusOK, callRes.StatusCode)

	var called map[string]interface{}
	json.NewDecoder(callRes.Body).Decode(&called)
	assert.Equal(t, resB["entry_id"], called["entry_id"], "вызываться должен участник с наименьшей позицией")

	// Отметка «подошёл» и «обслужен».
	entryB := int(resB["entry_id"].(float64))
	base := ts.URL + "/api/manage/queues/" + strconv.Itoa(int(queue.ID)) + "/entries/" + strconv.Itoa(entryB)
	for _, action := range []string{"/arrived", "/serve"} {
		req, _ := http.NewRequest("POST", base+action, nil)
		req.Header.Set("X-Test-UserID", fmt.Sprintf("%d", owner.ID))
		res, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode, "действие %s", action)
	}

	// Повторная отметка «обслужен» отклоняется, двойного учёта нет.
	req, _ = http.NewRequest("POST", base+"/serve", nil)
	req.Header.Set("X-Test-UserID", fmt.Sprintf("%d", owner.ID))
	res, err = http.DefaultClient.Do(req)
	assert.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	assert.NoError(t, storage.DB.First(&reloaded, queue.ID).Error)
	assert.Equal(t, 1, reloaded.CurrentQueueSize, "осталась только Дарья")
	assert.Equal(t, 1, reloaded.TotalServedToday)

	// История по обслуженному записана.
	var historyCount int64
	storage.DB.Model(&models.QueueHistory{}).
		Where("queue_id = ? AND status = ?", queue.ID, models.HistoryStatusCompleted).
		Count(&historyCount)
	assert.Equal(t, int64(1), historyCount)

	// Живая позиция Дарьи — первая, хотя номер у неё третий.
	entryD := int(resD["entry_id"].(float64))
	posRes, err := http.Get(ts.URL + "/api/entries/" + strconv.Itoa(entryD))
	assert.NoError(t, err)
	defer posRes.Body.Close()
	var position map[string]interface{}
	json.NewDecoder(posRes.Body).Decode(&position)
	assert.Equal(t, float64(3), position["position_number"])
	assert.Equal(t, float64(1), position["current_position"])
	assert.Equal(t, float64(0), position["people_ahead"])
}

func TestConcurrentJoinsAssignDistinctPositions(t *testing.T) {
	ts := setupTestServer()
	defer ts.Close()

	owner := createOwner(t, fmt.Sprintf("owner_%d@example.com", time.Now().UnixNano()))
	queue, err := core.CreateQueue(owner.ID, core.CreateQueueParams{
		Name:        "Очередь под нагрузкой",
		MaxCapacity: 100,
	})
	assert.NoError(t, err)

	const joiners = 20
	positions := make([]int, 0, joiners)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := core.Join(queue.ID, core.JoinParams{
				Name:      fmt.Sprintf("Гость%d", i),
				Surname:   "Тестов",
				PartySize: 1,
			})
			if assert.NoError(t, err) {
				mu.Lock()
				positions = append(positions, entry.PositionNumber)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// Позиции — ровно 1..N, без дыр и дублей.
	sort.Ints(positions)
	assert.Len(t, positions, joiners)
	for i, p := range positions {
		assert.Equal(t, i+1, p)
	}

	var reloaded models.Queue
	assert.NoError(t, storage.DB.First(&reloaded, queue.ID).Error)
	assert.Equal(t, joiners, reloaded.CurrentQueueSize)
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	ts := setupTestServer()
	defer ts.Close()

	owner := createOwner(t, fmt.Sprintf("owner_%d@example.com", time.Now().UnixNano()))
	queue, err := core.CreateQueue(owner.ID, core.CreateQueueParams{
		Name:        "Тесная очередь",
		MaxCapacity: 5,
	})
	assert.NoError(t, err)

	const attempts = 20
	var joined, rejected int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := core.Join(queue.ID, core.JoinParams{
				Name:      fmt.Sprintf("Гость%d", i),
				Surname:   "Тестов",
				PartySize: 1,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				joined++
			} else {
				assert.ErrorIs(t, err, core.ErrQueueAtCapacity)
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(5), joined, "вместимость не должна превышаться при параллельных входах")
	assert.Equal(t, int32(15), rejected)

	var reloaded models.Queue
	assert.NoError(t, storage.DB.First(&reloaded, queue.ID).Error)
	assert.Equal(t, 5, reloaded.CurrentQueueSize)
}

func TestGuestPurgedAfterLeave(t *testing.T) {
	ts := setupTestServer()
	defer ts.Close()

	owner := createOwner(t, fmt.Sprintf("owner_%d@example.com", time.Now().UnixNano()))
	queue, err := core.CreateQueue(owner.ID, core.CreateQueueParams{Name: "Очередь с гостем"})
	assert.NoError(t, err)

	entry, err := core.Join(queue.ID, core.JoinParams{
		Name:      "Гость",
		Surname:   "Безымянный",
		PartySize: 1,
	})
	assert.NoError(t, err)
	assert.True(t, entry.User.IsGuest)

	assert.NoError(t, core.Leave(entry.ID))

	// Гостевая учётка без активных записей вычищена.
	var count int64
	storage.DB.Model(&models.User{}).Where("id = ?", entry.UserID).Count(&count)
	assert.Equal(t, int64(0), count)

	// Записи гостя уходят вместе с учёткой, но строка истории остаётся.
	var entryCount int64
	storage.DB.Model(&models.QueueEntry{}).Where("id = ?", entry.ID).Count(&entryCount)
	assert.Equal(t, int64(0), entryCount)

	var historyCount int64
	storage.DB.Model(&models.QueueHistory{}).
		Where("queue_id = ? AND status = ?", queue.ID, models.HistoryStatusCancelled).
		Count(&historyCount)
	assert.Equal(t, int64(1), historyCount)
}

func TestRegisterUpgradesGuestAccount(t *testing.T) {
	ts := setupTestServer()
	defer ts.Close()

	owner := createOwner(t, fmt.Sprintf("owner_%d@example.com", time.Now().UnixNano()))
	queue, err := core.CreateQueue(owner.ID, core.CreateQueueParams{Name: "Очередь кофейни"})
	assert.NoError(t, err)

	guestEmail := fmt.Sprintf("guest_%d@example.com", time.Now().UnixNano())
	entry, err := core.Join(queue.ID, core.JoinParams{
		Name:      "Пётр",
		Surname:   "Гостев",
		Email:     guestEmail,
		PartySize: 1,
	})
	assert.NoError(t, err)
	assert.True(t, entry.User.IsGuest)

	// Регистрация с тем же email превращает гостя в полноценную учётку.
	body, _ := json.Marshal(map[string]string{
		"name":     "Пётр",
		"surname":  "Гостев",
		"email":    guestEmail,
		"password": "secret123",
	})
	res, err := http.Post(ts.URL+"/auth/register", "application/json", bytes.NewReader(body))
	assert.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	var upgraded models.User
	assert.NoError(t, storage.DB.Where("email = ?", guestEmail).First(&upgraded).Error)
	assert.False(t, upgraded.IsGuest, "после регистрации гостевой признак снимается")
	assert.Equal(t, entry.UserID, upgraded.ID, "запись в очереди остаётся привязанной к той же учётке")
}

func TestCallNextAdvancesToDistinctPerson(t *testing.T) {
	ts := setupTestServer()
	defer ts.Close()

	owner := createOwner(t, fmt.Sprintf("owner_%d@example.com", time.Now().UnixNano()))
	queue, err := core.CreateQueue(owner.ID, core.CreateQueueParams{Name: "Очередь на вызов"})
	assert.NoError(t, err)

	entryA, err := core.Join(queue.ID, core.JoinParams{Name: "Анна", Surname: "Тестова", PartySize: 1})
	assert.NoError(t, err)
	entryB, err := core.Join(queue.ID, core.JoinParams{Name: "Борис", Surname: "Тестов", PartySize: 1})
	assert.NoError(t, err)

	first, err := core.CallNext(queue.ID, owner.ID)
	assert.NoError(t, err)
	assert.Equal(t, entryA.ID, first.ID)

	// Вызванный ещё занимает место, поэтому живая позиция Бориса — вторая.
	rank, err := core.CurrentRank(storage.DB, entryB)
	assert.NoError(t, err)
	assert.Equal(t, 2, rank)

	// Повторный вызов без нового входа даёт другого человека.
	second, err := core.CallNext(queue.ID, owner.ID)
	assert.NoError(t, err)
	assert.Equal(t, entryB.ID, second.ID)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = core.CallNext(queue.ID, owner.ID)
	assert.ErrorIs(t, err, core.ErrNoOneWaiting)
}

func TestRankAheadNeverIncreases(t *testing.T) {
	ts := setupTestServer()
	defer ts.Close()

	owner := createOwner(t, fmt.Sprintf("owner_%d@example.com", time.Now().UnixNano()))
	queue, err := core.CreateQueue(owner.ID, core.CreateQueueParams{Name: "Очередь на убывание"})
	assert.NoError(t, err)

	entries := make([]*models.QueueEntry, 4)
	for i := range entries {
		entries[i], err = core.Join(queue.ID, core.JoinParams{
			Name:      fmt.Sprintf("Участник%d", i),
			Surname:   "Тестов",
			PartySize: 1,
		})
		assert.NoError(t, err)
	}
	last := entries[3]

	prev, err := core.CurrentRank(storage.DB, last)
	assert.NoError(t, err)
	assert.Equal(t, 4, prev)

	// Живая позиция последнего участника не растёт ни на одном переходе.
	checkRank := func(stage string) {
		rank, err := core.CurrentRank(storage.DB, last)
		assert.NoError(t, err, stage)
		assert.LessOrEqual(t, rank, prev, "живая позиция выросла после шага: %s", stage)
		prev = rank
	}

	_, err = core.CallNext(queue.ID, owner.ID)
	assert.NoError(t, err)
	checkRank("вызов первого")
	assert.Equal(t, 4, prev, "вызванный всё ещё впереди")

	assert.NoError(t, core.MarkServed(queue.ID, entries[0].ID, owner.ID))
	checkRank("обслуживание первого")
	assert.Equal(t, 3, prev)

	assert.NoError(t, core.Leave(entries[1].ID))
	checkRank("выход второго")
	assert.Equal(t, 2, prev)

	_, err = core.CallNext(queue.ID, owner.ID)
	assert.NoError(t, err)
	checkRank("вызов третьего")

	assert.NoError(t, core.MarkNoShow(queue.ID, entries[2].ID, owner.ID))
	checkRank("неявка третьего")
	assert.Equal(t, 1, prev)
}

func TestGuestKeptWhileActiveInAnotherQueue(t *testing.T) {
	ts := setupTestServer()
	defer ts.Close()

	owner := createOwner(t, fmt.Sprintf("owner_%d@example.com", time.Now().UnixNano()))
	first, err := core.CreateQueue(owner.ID, core.CreateQueueParams{Name: "Первая очередь"})
	assert.NoError(t, err)
	second, err := core.CreateQueue(owner.ID, core.CreateQueueParams{Name: "Вторая очередь"})
	assert.NoError(t, err)

	guestEmail := fmt.Sprintf("guest_%d@example.com", time.Now().UnixNano())
	entryFirst, err := core.Join(first.ID, core.JoinParams{
		Name: "Гость", Surname: "Деловой", Email: guestEmail, PartySize: 1,
	})
	assert.NoError(t, err)
	entrySecond, err := core.Join(second.ID, core.JoinParams{
		Name: "Гость", Surname: "Деловой", Email: guestEmail, PartySize: 1,
	})
	assert.NoError(t, err)
	assert.Equal(t, entryFirst.UserID, entrySecond.UserID, "один email — одна учётка")

	// Выход из одной очереди не трогает гостя: во второй он ещё стоит.
	assert.NoError(t, core.Leave(entryFirst.ID))

	var guest models.User
	assert.NoError(t, storage.DB.First(&guest, entryFirst.UserID).Error)
	assert.Equal(t, 1, guest.ActiveEntries)

	// После выхода из последней очереди учётка вычищается.
	assert.NoError(t, core.Leave(entrySecond.ID))
	var count int64
	storage.DB.Model(&models.User{}).Where("id = ?", entryFirst.UserID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestSearchQueues(t *testing.T) {
	ts := setupTestServer()
	defer ts.Close()

	owner := createOwner(t, fmt.Sprintf("owner_%d@example.com", time.Now().UnixNano()))
	matching, err := core.CreateQueue(owner.ID, core.CreateQueueParams{
		Name:        "Кофейня у парка",
		Description: "Завтраки и обеды",
	})
	assert.NoError(t, err)
	_, err = core.CreateQueue(owner.ID, core.CreateQueueParams{Name: "Барбершоп «Лезвие»"})
	assert.NoError(t, err)
	closed, err := core.CreateQueue(owner.ID, core.CreateQueueParams{Name: "Кофейня закрытая"})
	assert.NoError(t, err)
	assert.NoError(t, core.CloseQueue(closed.ID, owner.ID))

	res, err := http.Get(ts.URL + "/api/queues/search?q=" + url.QueryEscape("Кофейня"))
	assert.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var items []map[string]interface{}
	assert.NoError(t, json.NewDecoder(res.Body).Decode(&items))
	assert.Len(t, items, 1, "закрытая очередь в выдачу не попадает")
	assert.Equal(t, float64(matching.ID), items[0]["queue_id"])

	// Поиск по описанию тоже работает.
	res, err = http.Get(ts.URL + "/api/queues/search?q=" + url.QueryEscape("обеды"))
	assert.NoError(t, err)
	defer res.Body.Close()
	items = nil
	assert.NoError(t, json.NewDecoder(res.Body).Decode(&items))
	assert.Len(t, items, 1)

	// Пустой запрос отклоняется.
	res, err = http.Get(ts.URL + "/api/queues/search?q=")
	assert.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	var parsed map[string]interface{}
	assert.NoError(t, json.NewDecoder(res.Body).Decode(&parsed))
	assert.Equal(t, "EMPTY_QUERY", parsed["code"])
}
