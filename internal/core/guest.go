package core

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"waitq/internal/models"
	"waitq/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Заглушка вместо хэша пароля у гостевых учёток: войти по ней нельзя.
const guestPasswordHash = "GUEST_USER"

// findOrCreateJoiner находит пользователя по email или создаёт гостевую
// учётку. Гостям без email выдаётся синтетический адрес, чтобы не ломать
// уникальный индекс. Найденная строка блокируется до конца транзакции:
// параллельный Leave в другой очереди не сможет удалить гостя между
// чтением и созданием записи.
func findOrCreateJoiner(tx *gorm.DB, p JoinParams) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" {
		email = fmt.Sprintf("guest_%s@waitq.local", uuid.NewString())
	}

	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = models.User{
		Name:         strings.TrimSpace(p.Name),
		Surname:      strings.TrimSpace(p.Surname),
		Email:        email,
		PasswordHash: guestPasswordHash,
		Phone:        strings.TrimSpace(p.Phone),
		IsGuest:      true,
	}
	if err := tx.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// holdUserEntry и releaseUserEntry ведут счётчик активных записей
// пользователя в той же транзакции, что и переход самой записи. На нём
// строится чистка гостей: существование активных записей не приходится
// выяснять отдельным запросом, который гонялся бы с параллельным Join
// в другой очереди.
func holdUserEntry(tx *gorm.DB, userID uint) error {
	return tx.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("active_entries", gorm.Expr("active_entries + 1")).Error
}

func releaseUserEntry(tx *gorm.DB, userID uint) error {
	return tx.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("active_entries", gorm.Expr("active_entries - 1")).Error
}

// purgeGuestIfIdle удаляет гостевую учётку, если у неё не осталось активных
// записей. Строка пользователя берётся под блокировку: параллельный Join,
// нашедший ту же учётку, либо уже поднял счётчик, либо ждёт её освобождения.
func purgeGuestIfIdle(tx *gorm.DB, userID uint) error {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if !user.IsGuest || user.ActiveEntries > 0 {
		return nil
	}
	return tx.Unscoped().Delete(&user).Error
}

// PurgeIdleGuests — фоновая уборка гостевых учёток без активных записей.
// Запускается планировщиком раз в сутки; подчищает гостей, которых не
// удалось убрать по ходу работы (например, истёкших по NoShow). Удаление
// одним оператором по счётчику: Join, поднявший счётчик в своей
// транзакции, держит блокировку строки, так что под уборку не попадает.
func PurgeIdleGuests() {
	res := storage.DB.Unscoped().
		Where("is_guest = ? AND active_entries = 0", true).
		Delete(&models.User{})
	if res.Error != nil {
		log.Println("Ошибка уборки гостевых учёток:", res.Error)
		return
	}
	if res.RowsAffected == 0 {
		log.Println("Неактивных гостевых учёток нет.")
		return
	}
	log.Printf("Удалено гостевых учёток: %d\n", res.RowsAffected)
}
