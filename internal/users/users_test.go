package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/auth"
	"github.com/technosupport/firewatch/internal/data"
	"github.com/technosupport/firewatch/internal/session"
	"github.com/technosupport/firewatch/internal/tokens"
)

type recordingAuditor struct {
	actions []string
	fail    bool
}

func (r *recordingAuditor) RecordUserAction(_ context.Context, action string, _ data.User, _ alarms.Principal) error {
	r.actions = append(r.actions, action)
	if r.fail {
		return errors.New("audit down")
	}
	return nil
}

type fixture struct {
	svc   *Service
	mr    *miniredis.Miniredis
	audit *recordingAuditor
	admin alarms.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	repo := NewMemoryRepo()
	hash, err := auth.HashPassword("admin-pass")
	require.NoError(t, err)
	admin := &data.User{Username: "admin", PasswordHash: hash, Role: alarms.RoleAdmin}
	require.NoError(t, repo.Create(context.Background(), admin))

	audit := &recordingAuditor{}
	svc := &Service{
		Repo:      repo,
		Tokens:    tokens.NewManager("test-signing-key", time.Hour),
		Sessions:  session.NewManager(rdb).WithLockout(3, time.Minute),
		Blacklist: auth.NewRedisBlacklist(rdb),
		Audit:     audit,
	}
	return &fixture{svc: svc, mr: mr, audit: audit, admin: admin.Principal()}
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "admin", "admin-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "admin", res.User.Username)

	p, err := f.svc.Tokens.Validate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, f.admin.UserID, p.UserID)
	assert.True(t, p.IsAdmin())
}

func TestLogin_BadCredentialsAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errWrongPass := f.svc.Login(ctx, "admin", "nope")
	_, errNoUser := f.svc.Login(ctx, "ghost", "nope")
	assert.ErrorIs(t, errWrongPass, alarms.ErrInvalidCredential)
	assert.ErrorIs(t, errNoUser, alarms.ErrInvalidCredential)

	_, err := f.svc.Login(ctx, "", "x")
	assert.ErrorIs(t, err, alarms.ErrInvalidCredential)
}

func TestLogin_Lockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, "admin", "wrong")
		require.ErrorIs(t, err, alarms.ErrInvalidCredential)
	}
	_, err := f.svc.Login(ctx, "admin", "admin-pass")
	assert.ErrorIs(t, err, ErrLockedOut)

	f.mr.FastForward(2 * time.Minute)
	_, err = f.svc.Login(ctx, "admin", "admin-pass")
	assert.NoError(t, err)
}

func TestLogout_BlacklistsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "admin", "admin-pass")
	require.NoError(t, err)
	claims, err := f.svc.Tokens.ValidateToken(res.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, claims))
	revoked, err := f.svc.Blacklist.IsBlacklisted(ctx, claims.ID)
	require.NoError(t, err)
	assert.True(t, revoked)

	assert.ErrorIs(t, f.svc.Logout(ctx, nil), alarms.ErrInvalidCredential)
}

func TestCreateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Create(ctx, f.admin, "alice", "alice-pass", alarms.RoleUser)
	require.NoError(t, err)
	assert.NotZero(t, u.ID)

	_, err = f.svc.Create(ctx, f.admin, "alice", "other", alarms.RoleUser)
	assert.ErrorIs(t, err, data.ErrUsernameTaken)

	_, err = f.svc.Create(ctx, f.admin, "bob", "pw", alarms.Role("root"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	res, err := f.svc.Login(ctx, "alice", "alice-pass")
	require.NoError(t, err)
	claims, err := f.svc.Tokens.ValidateToken(res.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, f.admin, u.ID))
	revoked, err := f.svc.Blacklist.IsBlacklisted(ctx, claims.ID)
	require.NoError(t, err)
	assert.True(t, revoked, "live tokens of a deleted user are revoked")

	assert.ErrorIs(t, f.svc.Delete(ctx, f.admin, u.ID), data.ErrUserNotFound)
	assert.Equal(t, []string{ActionUserCreate, ActionUserDelete}, f.audit.actions)
}

func TestAdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := alarms.Principal{UserID: 42, Username: "u", Role: alarms.RoleUser}

	_, err := f.svc.List(ctx, user)
	assert.ErrorIs(t, err, alarms.ErrForbidden)
	_, err = f.svc.Create(ctx, user, "x", "y", alarms.RoleUser)
	assert.ErrorIs(t, err, alarms.ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, user, 1), alarms.ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.admin, f.admin.UserID), ErrCannotDeleteSelf)

	list, err := f.svc.List(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].PasswordHash)
}

func TestAuditFailureDoesNotFailCreate(t *testing.T) {
	f := newFixture(t)
	f.audit.fail = true
	_, err := f.svc.Create(context.Background(), f.admin, "carol", "pw", alarms.RoleUser)
	assert.NoError(t, err)
}

func TestMemoryBlacklist(t *testing.T) {
	bl := auth.NewMemoryBlacklist(16, time.Hour)
	ctx := context.Background()
	require.NoError(t, bl.AddToBlacklist(ctx, "jti-1", time.Minute))
	require.NoError(t, bl.AddToBlacklist(ctx, "jti-2", 0))

	ok, _ := bl.IsBlacklisted(ctx, "jti-1")
	assert.True(t, ok)
	ok, _ = bl.IsBlacklisted(ctx, "jti-2")
	assert.False(t, ok)
}
