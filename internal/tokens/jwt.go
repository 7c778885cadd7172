package tokens

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/technosupport/firewatch/internal/alarms"
)

// DefaultTTL matches the lifetime of a desk operator's shift.
const DefaultTTL = 24 * time.Hour

const keyID = "v1"

type Claims struct {
	Username string      `json:"username"`
	Role     alarms.Role `json:"role"`
	jwt.RegisteredClaims
}

// UserID decodes the subject claim.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// Principal returns the caller identity carried by the claims.
func (c *Claims) Principal() (*alarms.Principal, error) {
	id, err := c.UserID()
	if err != nil || id <= 0 {
		return nil, alarms.ErrInvalidCredential
	}
	role, ok := alarms.ParseRole(string(c.Role))
	if !ok {
		return nil, alarms.ErrInvalidCredential
	}
	return &alarms.Principal{UserID: id, Username: c.Username, Role: role}, nil
}

type Manager struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewManager(signingKey string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{signingKey: []byte(signingKey), ttl: ttl, now: time.Now}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue signs a bearer credential for the user. The jti is returned so the
// caller can track the session for revocation.
func (m *Manager) Issue(userID int64, username string, role alarms.Role) (token, jti string, expiresAt time.Time, err error) {
	now := m.now().UTC()
	expiresAt = now.Add(m.ttl)
	jti = uuid.New().String()
	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
			Subject:   strconv.FormatInt(userID, 10),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = keyID

	token, err = t.SignedString(m.signingKey)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

// ValidateToken verifies signature and expiry and returns the raw claims.
// Failures map to alarms.ErrExpiredToken or alarms.ErrInvalidCredential.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, alarms.ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", alarms.ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, alarms.ErrInvalidCredential
	}
	return claims, nil
}

// Validate returns the principal for a bearer credential.
func (m *Manager) Validate(tokenString string) (*alarms.Principal, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return claims.Principal()
}
