package jwt

import (
	"errors"
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Minute)

	token, err := svc.GenerateAccessToken("actor-1", RoleBusiness, "biz-1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.ActorRef != "actor-1" || claims.Role != RoleBusiness || claims.BusinessRef != "biz-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejectsForeignAndExpiredTokens(t *testing.T) {
	other := NewService("other-secret", time.Minute)
	token, _ := other.GenerateAccessToken("actor-1", RoleParticipant, "")

	svc := NewService("secret", time.Minute)
	if _, err := svc.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	expired := NewService("secret", -time.Minute)
	token, _ = expired.GenerateAccessToken("actor-1", RoleParticipant, "")
	if _, err := svc.ValidateAccessToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}
