package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"gochat/models"
)

// SaveUser upserts one cached user profile.
func (s *Store) SaveUser(user models.User) error {
	if user.UserID == "" {
		return errors.New("user_id is required")
	}
	if user.DisplayName == "" {
		return errors.New("display_name is required")
	}

	online := 0
	if user.Online {
		online = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO users (
			user_id,
			display_name,
			email,
			photo_url,
			online,
			last_seen,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			photo_url = excluded.photo_url,
			online = excluded.online,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		user.UserID,
		user.DisplayName,
		user.Email,
		user.PhotoURL,
		online,
		nullInt64(user.LastSeen),
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save user %q: %w: %w", user.UserID, ErrUnavailable, err)
	}

	return nil
}

// SaveUsers upserts a batch of cached user profiles in one transaction.
func (s *Store) SaveUsers(users []models.User) error {
	if len(users) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin user batch transaction: %w: %w", ErrUnavailable, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, user := range users {
		if user.UserID == "" {
			return errors.New("user_id is required")
		}
		online := 0
		if user.Online {
			online = 1
		}
		if _, err := tx.Exec(
			`INSERT INTO users (
				user_id,
				display_name,
				email,
				photo_url,
				online,
				last_seen,
				updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				display_name = excluded.display_name,
				email = excluded.email,
				photo_url = excluded.photo_url,
				online = excluded.online,
				last_seen = excluded.last_seen,
				updated_at = excluded.updated_at`,
			user.UserID,
			user.DisplayName,
			user.Email,
			user.PhotoURL,
			online,
			nullInt64(user.LastSeen),
			nowUnixMilli(),
		); err != nil {
			return fmt.Errorf("save user %q: %w: %w", user.UserID, ErrUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit user batch: %w: %w", ErrUnavailable, err)
	}

	return nil
}

// User fetches one cached user by id. Absence is a nil user, not an
// error.
func (s *Store) User(userID string) (*models.User, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}

	row := s.db.QueryRow(
		`SELECT
			user_id,
			display_name,
			email,
			photo_url,
			online,
			last_seen
		FROM users
		WHERE user_id = ?`,
		userID,
	)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user %q: %w: %w", userID, ErrUnavailable, err)
	}
	return user, nil
}

// Users returns all cached users ordered by display name.
func (s *Store) Users() ([]models.User, error) {
	rows, err := s.db.Query(
		`SELECT
			user_id,
			display_name,
			email,
			photo_url,
			online,
			last_seen
		FROM users
		ORDER BY display_name ASC, user_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("get users: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w: %w", ErrUnavailable, err)
	}

	return users, nil
}

func scanUser(row scanner) (*models.User, error) {
	var (
		user     models.User
		online   int
		lastSeen sql.NullInt64
	)

	if err := row.Scan(
		&user.UserID,
		&user.DisplayName,
		&user.Email,
		&user.PhotoURL,
		&online,
		&lastSeen,
	); err != nil {
		return nil, err
	}

	user.Online = online == 1
	user.LastSeen = int64Value(lastSeen)

	return &user, nil
}
