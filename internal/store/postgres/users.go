package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = "id, email, full_name, role, department, phone, created_date"

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Department, &u.Phone, &u.CreatedDate)
	return u, err
}

func (s *Store) ListUsers(ctx context.Context, q store.Query) ([]models.User, error) {
	query, args, err := buildSelect("SELECT "+userColumns+" FROM users", q, store.UserColumns, "email")
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	role := input.Role
	if role == "" {
		role = models.RoleUser
	}
	u, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, full_name, role, department, phone, password_hash, created_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+userColumns,
		uuid.NewString(), strings.ToLower(strings.TrimSpace(input.Email)), input.FullName, role, input.Department,
		input.Phone, input.PasswordHash, time.Now().UTC()))
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, store.ErrEmailTaken
		}
		return models.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (models.User, error) {
	var set setClause
	if patch.FullName != nil {
		set.add("full_name", *patch.FullName)
	}
	if patch.Department != nil {
		set.add("department", *patch.Department)
	}
	if patch.Phone != nil {
		set.add("phone", *patch.Phone)
	}
	if patch.Role != nil {
		set.add("role", *patch.Role)
	}
	if set.empty() {
		return s.GetUser(ctx, id)
	}
	query, args := set.update("users", id, userColumns)
	u, err := scanUser(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return u, nil
}

// GetCredentials returns the user and password hash for a login attempt. An
// unknown email is reported as invalid credentials.
func (s *Store) GetCredentials(ctx context.Context, email string) (models.User, string, error) {
	var u models.User
	var hash string
	err := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`, password_hash
		FROM users
		WHERE lower(email) = lower($1)
	`, strings.TrimSpace(email)).Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Department, &u.Phone, &u.CreatedDate, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, "", store.ErrInvalidCredentials
		}
		return models.User{}, "", err
	}
	return u, hash, nil
}

func (s *Store) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (models.Session, error) {
	sessionID := uuid.NewString()
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, sessionID, userID, expiresAt); err != nil {
		return models.Session{}, err
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var session models.Session
	err := s.pool.QueryRow(ctx, `
		SELECT s.session_id, s.user_id, u.email, u.role, u.department, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_id = $1 AND s.expires_at > NOW()
	`, sessionID).Scan(&session.ID, &session.UserID, &session.Email, &session.Role, &session.Department, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	return err
}
