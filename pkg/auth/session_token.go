package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dossierflow/dossierflow/pkg/model"
)

var ErrInvalidToken = errors.New("invalid token")

const issuer = "dossierflow"

type SessionClaims struct {
	jwt.RegisteredClaims
	UserID    uint   `json:"id_user"`
	ProfileID uint   `json:"id_profile"`
	Username  string `json:"username"`
	Email     string `json:"email"`
}

type SessionTokenManager struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewSessionTokenManager(signingKey []byte, ttl time.Duration) *SessionTokenManager {
	return &SessionTokenManager{signingKey: signingKey, ttl: ttl, now: time.Now}
}

func (m *SessionTokenManager) TTL() time.Duration {
	return m.ttl
}

func (m *SessionTokenManager) GenerateSessionToken(user *model.User) (string, error) {
	now := m.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			Issuer:    issuer,
		},
		UserID:    user.ID,
		ProfileID: user.ProfileID,
		Username:  user.Username,
		Email:     user.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *SessionTokenManager) ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
