package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateJWTToken_Success(t *testing.T) {
	token, err := GenerateJWTToken("test-issuer", "alice@example.com", time.Hour, "secret-key")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	subject, err := ValidateAndParseJWTToken(token, "secret-key", "test-issuer")
	if err != nil {
		t.Fatalf("expected valid token, got: %v", err)
	}
	if subject != "alice@example.com" {
		t.Errorf("expected subject alice@example.com, got %s", subject)
	}
}

func TestGenerateJWTToken_UniqueWithinSecond(t *testing.T) {
	first, err := GenerateJWTToken("test-issuer", "alice@example.com", time.Hour, "secret-key")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	second, err := GenerateJWTToken("test-issuer", "alice@example.com", time.Hour, "secret-key")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if first == second {
		t.Fatal("expected back-to-back tokens to differ")
	}

	parsed, err := jwt.ParseWithClaims(first, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte("secret-key"), nil
	})
	if err != nil {
		t.Fatalf("expected valid token, got: %v", err)
	}
	if claims := parsed.Claims.(*jwt.RegisteredClaims); claims.ID == "" {
		t.Error("expected a jti claim")
	}
}

func TestGenerateJWTToken_InvalidParams(t *testing.T) {
	tests := []struct {
		name     string
		issuer   string
		account  string
		duration time.Duration
		key      string
	}{
		{"empty issuer", "", "a@b", time.Hour, "key"},
		{"empty account", "iss", "", time.Hour, "key"},
		{"zero duration", "iss", "a@b", 0, "key"},
		{"empty key", "iss", "a@b", time.Hour, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := GenerateJWTToken(tt.issuer, tt.account, tt.duration, tt.key); err == nil {
				t.Error("expected error for invalid parameters, got nil")
			}
		})
	}
}

func TestValidateAndParseJWTToken_Rejects(t *testing.T) {
	valid, _ := GenerateJWTToken("iss", "a@b", time.Hour, "key")
	expired, _ := GenerateJWTToken("iss", "a@b", -time.Minute, "key")

	tests := []struct {
		name    string
		token   string
		key     string
		issuer  string
		expired bool
	}{
		{name: "wrong key", token: valid, key: "other", issuer: "iss"},
		{name: "wrong issuer", token: valid, key: "key", issuer: "other"},
		{name: "garbage", token: "not.a.jwt", key: "key", issuer: "iss"},
		{name: "expired", token: expired, key: "key", issuer: "iss", expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateAndParseJWTToken(tt.token, tt.key, tt.issuer)
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if tt.expired && !errors.Is(err, jwt.ErrTokenExpired) {
				t.Errorf("expected jwt.ErrTokenExpired, got %v", err)
			}
		})
	}
}

func TestParseBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "  bearer abc ", want: "abc"},
		{header: "Bearer", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "", wantErr: true},
		{header: "Bearer a b", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseBearerToken(tt.header)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAuthorizationHeader) {
				t.Errorf("%q: expected ErrInvalidAuthorizationHeader, got %v", tt.header, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: expected %q, got %q (%v)", tt.header, tt.want, got, err)
		}
	}
}

func TestParseSubjectFromJWT(t *testing.T) {
	token, _ := GenerateJWTToken("iss", "bob@example.com", time.Hour, "any-key")

	subject, err := ParseSubjectFromJWT(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "bob@example.com" {
		t.Errorf("expected bob@example.com, got %s", subject)
	}

	if _, err := ParseSubjectFromJWT("garbage"); err == nil {
		t.Error("expected an error for a malformed token")
	}
}
