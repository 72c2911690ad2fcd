package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSigningSecret = "secret"
	testCookieName    = "board_session"
	testUserID        = "user-123"
)

var testClockNow = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
		Clock: func() time.Time {
			return testClockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func newTestIssuer(t *testing.T, secret string) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(secret),
		TokenTTL:      time.Hour,
		Clock: func() time.Time {
			return testClockNow.Add(-time.Minute)
		},
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	return issuer
}

func signRaw(t *testing.T, claims SessionClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestIssuedTokenValidates(t *testing.T) {
	validator := newTestValidator(t)
	token, expiresAt, err := newTestIssuer(t, testSigningSecret).Issue(Identity{UserID: testUserID, Email: "user@example.com"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if !expiresAt.Equal(testClockNow.Add(59 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	claims, err := validator.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testUserID || claims.UserEmail != "user@example.com" {
		t.Fatalf("unexpected claims %#v", claims)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	validator := newTestValidator(t)
	token := signRaw(t, SessionClaims{
		UserID: testUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultSessionIssuer,
			Subject:   testUserID,
			IssuedAt:  jwt.NewNumericDate(testClockNow.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(testClockNow.Add(-time.Hour)),
		},
	})

	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestValidateTokenRejectsForeignIssuerAndSecret(t *testing.T) {
	validator := newTestValidator(t)
	foreign := signRaw(t, SessionClaims{
		UserID: testUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(testClockNow.Add(time.Hour)),
		},
	})
	if _, err := validator.ValidateToken(foreign); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected issuer mismatch to be rejected, got %v", err)
	}

	wrongSecret, _, err := newTestIssuer(t, "other-secret").Issue(Identity{UserID: testUserID})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := validator.ValidateToken(wrongSecret); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected signature mismatch to be rejected, got %v", err)
	}
}

func TestValidateTokenRequiresUser(t *testing.T) {
	validator := newTestValidator(t)
	token := signRaw(t, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultSessionIssuer,
			ExpiresAt: jwt.NewNumericDate(testClockNow.Add(time.Hour)),
		},
	})
	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrMissingSessionSubject) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}

func TestValidateRequestTokenSources(t *testing.T) {
	validator := newTestValidator(t)
	token, _, err := newTestIssuer(t, testSigningSecret).Issue(Identity{UserID: testUserID})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	cookieRequest := httptest.NewRequest(http.MethodGet, "/rooms/room-1/snapshot", http.NoBody)
	cookieRequest.AddCookie(&http.Cookie{Name: testCookieName, Value: token})

	headerRequest := httptest.NewRequest(http.MethodGet, "/rooms/room-1/snapshot", http.NoBody)
	headerRequest.Header.Set("Authorization", "Bearer "+token)

	queryRequest := httptest.NewRequest(http.MethodGet, "/rooms/room-1/ws?access_token="+token, http.NoBody)

	for name, request := range map[string]*http.Request{
		"cookie": cookieRequest,
		"header": headerRequest,
		"query":  queryRequest,
	} {
		claims, err := validator.ValidateRequest(request)
		if err != nil {
			t.Fatalf("%s: validation failed: %v", name, err)
		}
		if claims.UserID != testUserID {
			t.Fatalf("%s: unexpected user id %s", name, claims.UserID)
		}
	}

	bare := httptest.NewRequest(http.MethodGet, "/rooms/room-1/snapshot", http.NoBody)
	if _, err := validator.ValidateRequest(bare); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestUserIDFromToken(t *testing.T) {
	token, _, err := newTestIssuer(t, "any-secret").Issue(Identity{UserID: "user-9"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	userID, err := UserIDFromToken(token)
	if err != nil || userID != "user-9" {
		t.Fatalf("expected user-9, got %q (%v)", userID, err)
	}
	if _, err := UserIDFromToken("not-a-token"); err == nil {
		t.Fatalf("expected malformed token error")
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if _, err := NewSessionValidator(SessionValidatorConfig{}); !errors.Is(err, ErrMissingSessionSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
}
