package user

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already in use")
)

type Subscription string

const (
	SubscriptionStarter  Subscription = "starter"
	SubscriptionPro      Subscription = "pro"
	SubscriptionBusiness Subscription = "business"
)

func (s Subscription) IsValid() bool {
	switch s {
	case SubscriptionStarter, SubscriptionPro, SubscriptionBusiness:
		return true
	}
	return false
}

type User struct {
	ID                string       `json:"id"`
	Email             string       `json:"email"`
	PasswordHash      string       `json:"-"` // never expose hash in JSON
	Verify            bool         `json:"verify"`
	VerificationToken *string      `json:"-"`
	Subscription      Subscription `json:"subscription"`
	Token             string       `json:"-"`
	AvatarURL         string       `json:"avatarURL"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// Public is what the API hands back about an account.
type Public struct {
	Email        string       `json:"email"`
	Subscription Subscription `json:"subscription"`
}

type Profile struct {
	Email        string       `json:"email"`
	Subscription Subscription `json:"subscription"`
	AvatarURL    string       `json:"avatarURL"`
	Verify       bool         `json:"verify"`
}

func (u User) Public() Public {
	return Public{Email: u.Email, Subscription: u.Subscription}
}

func (u User) Profile() Profile {
	return Profile{
		Email:        u.Email,
		Subscription: u.Subscription,
		AvatarURL:    u.AvatarURL,
		Verify:       u.Verify,
	}
}

// NormalizeEmail is applied before every lookup and insert so that the
// uniqueness check does not depend on casing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
