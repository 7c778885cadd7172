package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/auth"
	"github.com/technosupport/firewatch/internal/data"
	"github.com/technosupport/firewatch/internal/tokens"
	"go.uber.org/zap"
)

var (
	ErrLockedOut        = errors.New("account temporarily locked")
	ErrInvalidInput     = errors.New("invalid input")
	ErrCannotDeleteSelf = errors.New("cannot delete own account")
)

// Audit actions for account management.
const (
	ActionUserCreate = "USER_CREATE"
	ActionUserDelete = "USER_DELETE"
)

type Repository interface {
	GetByUsername(ctx context.Context, username string) (*data.User, error)
	GetByID(ctx context.Context, id int64) (*data.User, error)
	Create(ctx context.Context, u *data.User) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*data.User, error)
}

// SessionStore tracks live credentials and failed logins.
type SessionStore interface {
	CheckLockout(ctx context.Context, username string) (bool, error)
	RecordFailedAttempt(ctx context.Context, username string) error
	ResetAttempts(ctx context.Context, username string) error
	CreateSession(ctx context.Context, userID int64, jti string, expiresAt time.Time) error
	RevokeSession(ctx context.Context, userID int64, jti string) error
	RevokeAllUserSessions(ctx context.Context, userID int64) (map[string]time.Duration, error)
}

type Auditor interface {
	RecordUserAction(ctx context.Context, action string, target data.User, actor alarms.Principal) error
}

type Service struct {
	Repo      Repository
	Tokens    *tokens.Manager
	Sessions  SessionStore
	Blacklist auth.TokenBlacklist
	Audit     Auditor
	Logger    *zap.Logger
}

// LoginResult is returned to the client on successful login.
type LoginResult struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      *data.User `json:"user"`
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Login verifies credentials and issues a bearer token. Unknown users and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, alarms.ErrInvalidCredential
	}

	if s.Sessions != nil {
		locked, err := s.Sessions.CheckLockout(ctx, username)
		if err != nil {
			s.logger().Warn("lockout check failed", zap.Error(err))
		} else if locked {
			return nil, ErrLockedOut
		}
	}

	u, err := s.Repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			s.recordFailure(ctx, username)
			return nil, alarms.ErrInvalidCredential
		}
		return nil, err
	}

	ok, err := auth.CheckPassword(password, u.PasswordHash)
	if err != nil || !ok {
		s.recordFailure(ctx, username)
		return nil, alarms.ErrInvalidCredential
	}

	token, jti, exp, err := s.Tokens.Issue(u.ID, u.Username, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	if s.Sessions != nil {
		if err := s.Sessions.CreateSession(ctx, u.ID, jti, exp); err != nil {
			s.logger().Warn("session record failed", zap.Int64("user_id", u.ID), zap.Error(err))
		}
		_ = s.Sessions.ResetAttempts(ctx, username)
	}

	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

func (s *Service) recordFailure(ctx context.Context, username string) {
	if s.Sessions == nil {
		return
	}
	if err := s.Sessions.RecordFailedAttempt(ctx, username); err != nil {
		s.logger().Warn("failed attempt not recorded", zap.Error(err))
	}
}

// Logout revokes the presented token for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, claims *tokens.Claims) error {
	if claims == nil || claims.ID == "" {
		return alarms.ErrInvalidCredential
	}
	if s.Blacklist != nil && claims.ExpiresAt != nil {
		if err := s.Blacklist.AddToBlacklist(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
			return err
		}
	}
	if s.Sessions != nil {
		if uid, err := claims.UserID(); err == nil {
			_ = s.Sessions.RevokeSession(ctx, uid, claims.ID)
		}
	}
	return nil
}

func (s *Service) List(ctx context.Context, actor alarms.Principal) ([]*data.User, error) {
	if !actor.IsAdmin() {
		return nil, alarms.ErrForbidden
	}
	return s.Repo.List(ctx)
}

func (s *Service) Create(ctx context.Context, actor alarms.Principal, username, password string, role alarms.Role) (*data.User, error) {
	if !actor.IsAdmin() {
		return nil, alarms.ErrForbidden
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	if _, ok := alarms.ParseRole(string(role)); !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &data.User{Username: username, PasswordHash: hash, Role: role}
	if err := s.Repo.Create(ctx, u); err != nil {
		return nil, err
	}
	s.audit(ctx, ActionUserCreate, *u, actor)
	return u, nil
}

// Delete removes the account and revokes its live tokens.
func (s *Service) Delete(ctx context.Context, actor alarms.Principal, id int64) error {
	if !actor.IsAdmin() {
		return alarms.ErrForbidden
	}
	if id == actor.UserID {
		return ErrCannotDeleteSelf
	}
	u, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}

	if s.Sessions != nil {
		live, err := s.Sessions.RevokeAllUserSessions(ctx, id)
		if err != nil {
			s.logger().Warn("session revoke failed", zap.Int64("user_id", id), zap.Error(err))
		}
		if s.Blacklist != nil {
			for jti, ttl := range live {
				_ = s.Blacklist.AddToBlacklist(ctx, jti, ttl)
			}
		}
	}
	s.audit(ctx, ActionUserDelete, *u, actor)
	return nil
}

func (s *Service) audit(ctx context.Context, action string, target data.User, actor alarms.Principal) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.RecordUserAction(ctx, action, target, actor); err != nil {
		s.logger().Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
