package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/technosupport/firewatch/internal/alarms"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameTaken  = errors.New("username already exists")
	errUniqueViolated = pq.ErrorCode("23505")
)

type User struct {
	ID           int64       `json:"id"`
	Username     string      `json:"username"`
	PasswordHash string      `json:"-"`
	Role         alarms.Role `json:"role"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Principal is the credential-facing view of the user.
func (u *User) Principal() alarms.Principal {
	return alarms.Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
}

type UserModel struct {
	DB DBTX
}

func (m UserModel) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE username = $1
	`
	var u User
	err := m.DB.QueryRowContext(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (m UserModel) GetByID(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE id = $1
	`
	var u User
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user and fills ID and CreatedAt.
func (m UserModel) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := m.DB.QueryRowContext(ctx, query, u.Username, u.PasswordHash, u.Role).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == errUniqueViolated {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

func (m UserModel) Delete(ctx context.Context, id int64) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (m UserModel) List(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, username, role, created_at
		FROM users
		ORDER BY id
	`
	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}
