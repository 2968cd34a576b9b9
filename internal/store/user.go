package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is the identity of the logged-in account.
type User struct {
	ID          string
	Email       string
	DisplayName string
}

// SaveUser records the logged-in user, replacing any previous one.
func (db *DB) SaveUser(u User) error {
	_, err := db.Exec(`
		INSERT INTO session_user (id, user_id, email, display_name, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			display_name = excluded.display_name,
			updated_at = excluded.updated_at`,
		u.ID, u.Email, u.DisplayName, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// LoadUser returns the recorded user, or ok=false if none is recorded.
func (db *DB) LoadUser() (User, bool, error) {
	var u User
	err := db.QueryRow(`SELECT user_id, email, display_name FROM session_user WHERE id = 1`).
		Scan(&u.ID, &u.Email, &u.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("load user: %w", err)
	}
	return u, true, nil
}

// ClearUser forgets the recorded user.
func (db *DB) ClearUser() error {
	if _, err := db.Exec(`DELETE FROM session_user`); err != nil {
		return fmt.Errorf("clear user: %w", err)
	}
	return nil
}
