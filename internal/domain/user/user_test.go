package user_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/geocoder89/accounthub/internal/domain/user"
)

func TestSubscriptionIsValid(t *testing.T) {
	for _, s := range []user.Subscription{user.SubscriptionStarter, user.SubscriptionPro, user.SubscriptionBusiness} {
		if !s.IsValid() {
			t.Fatalf("%q should be valid", s)
		}
	}
	for _, s := range []user.Subscription{"", "enterprise", "Starter"} {
		if s.IsValid() {
			t.Fatalf("%q should be invalid", s)
		}
	}
}

func TestUserJSONHidesSecrets(t *testing.T) {
	tok := "verify-me"
	u := user.User{
		ID:                "id-1",
		Email:             "a@x.com",
		PasswordHash:      "$2a$10$hash",
		VerificationToken: &tok,
		Token:             "jwt",
		Subscription:      user.SubscriptionStarter,
	}

	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	body := string(b)
	for _, secret := range []string{"$2a$10$hash", "verify-me", "jwt"} {
		if strings.Contains(body, secret) {
			t.Fatalf("json leaked %q: %s", secret, body)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := user.NormalizeEmail("  A@X.Com "); got != "a@x.com" {
		t.Fatalf("got %q", got)
	}
}
