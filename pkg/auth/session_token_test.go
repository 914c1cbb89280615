package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/dossierflow/dossierflow/pkg/model"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	manager := NewSessionTokenManager([]byte("secret"), time.Hour)
	user := &model.User{ID: 7, ProfileID: 2, Username: "amal", Email: "amal@example.com"}

	token, err := manager.GenerateSessionToken(user)
	if err != nil {
		t.Fatalf("GenerateSessionToken() error: %v", err)
	}

	claims, err := manager.ValidateSessionToken(token)
	if err != nil {
		t.Fatalf("ValidateSessionToken() error: %v", err)
	}
	if claims.UserID != 7 || claims.ProfileID != 2 || claims.Username != "amal" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestExpiredSessionToken(t *testing.T) {
	manager := NewSessionTokenManager([]byte("secret"), time.Hour)
	issued := time.Now().Add(-2 * time.Hour)
	manager.now = func() time.Time { return issued }

	token, err := manager.GenerateSessionToken(&model.User{ID: 1})
	if err != nil {
		t.Fatalf("GenerateSessionToken() error: %v", err)
	}

	manager.now = time.Now
	if _, err := manager.ValidateSessionToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSessionTokenWrongKey(t *testing.T) {
	token, err := NewSessionTokenManager([]byte("one"), time.Hour).GenerateSessionToken(&model.User{ID: 1})
	if err != nil {
		t.Fatalf("GenerateSessionToken() error: %v", err)
	}
	if _, err := NewSessionTokenManager([]byte("two"), time.Hour).ValidateSessionToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSessionTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           1,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := NewSessionTokenManager([]byte("secret"), time.Hour).ValidateSessionToken(token); err == nil {
		t.Fatal("expected unsigned token to be rejected")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if err := CheckPassword(hash, "s3cret"); err != nil {
		t.Fatalf("CheckPassword() error: %v", err)
	}
	if err := CheckPassword(hash, "wrong"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
}
