package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/geocoder89/accounthub/internal/apperr"
	"github.com/geocoder89/accounthub/internal/auth"
	"github.com/geocoder89/accounthub/internal/avatar"
	"github.com/geocoder89/accounthub/internal/domain/user"
	"github.com/geocoder89/accounthub/internal/notifications"
	"github.com/geocoder89/accounthub/internal/security"
	"github.com/google/uuid"
)

const (
	msgEmailInUse          = "Email in use"
	msgInvalidCredentials  = "Email or password invalid"
	msgNotVerified         = "Your account is not verified"
	msgUserNotFound        = "User not found"
	msgAlreadyVerified     = "Verification has already been passed"
	msgNotFound            = "Not found"
	msgNotAuthorized       = "Not authorized"
	msgInvalidSubscription = "subscription must be one of starter, pro, business"
	msgUnsupportedImage    = "Unsupported image file"
	msgPasswordTooLong     = "Password must be at most 72 bytes"

	verifySubject = "Verify email"
	verifyPath    = "/api/users/verify/"
)

// Store is the persistence the service needs. Lookups return user.ErrNotFound
// when nothing matches and Create returns user.ErrEmailTaken on a duplicate.
type Store interface {
	Create(ctx context.Context, u user.User) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	// ConsumeVerificationToken marks the holder of token verified and clears
	// the token in one atomic step.
	ConsumeVerificationToken(ctx context.Context, token string) (user.User, error)
	SetToken(ctx context.Context, id, token string) error
	UpdateSubscription(ctx context.Context, id string, sub user.Subscription) (user.User, error)
	UpdateAvatar(ctx context.Context, id, avatarURL string) error
}

type TokenManager interface {
	GenerateSessionToken(userID string) (string, error)
	VerifySessionToken(raw string) (*auth.Claims, error)
}

type Options struct {
	BaseURL  string
	MailFrom string
}

type Service struct {
	store     Store
	notifier  notifications.Notifier
	tokens    TokenManager
	processor avatar.Processor
	avatars   avatar.Store
	opts      Options
	log       *slog.Logger
	now       func() time.Time
}

func NewService(
	store Store,
	notifier notifications.Notifier,
	tokens TokenManager,
	processor avatar.Processor,
	avatars avatar.Store,
	opts Options,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}

	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Service{
		store:     store,
		notifier:  notifier,
		tokens:    tokens,
		processor: processor,
		avatars:   avatars,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

type RegisterInput struct {
	Email        string
	Password     string
	Subscription user.Subscription
}

type LoginResult struct {
	Token string      `json:"token"`
	User  user.Public `json:"user"`
}

type Upload struct {
	TempPath     string
	OriginalName string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (user.Public, error) {
	email := user.NormalizeEmail(in.Email)

	sub := in.Subscription
	if sub == "" {
		sub = user.SubscriptionStarter
	}
	if !sub.IsValid() {
		return user.Public{}, apperr.BadRequest(msgInvalidSubscription)
	}

	_, err := s.store.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return user.Public{}, apperr.Conflict(msgEmailInUse)
	case !errors.Is(err, user.ErrNotFound):
		return user.Public{}, apperr.Internal(err)
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return user.Public{}, apperr.BadRequest(msgPasswordTooLong)
		}
		return user.Public{}, apperr.Internal(err)
	}

	verificationToken, err := security.NewOpaqueToken()
	if err != nil {
		return user.Public{}, apperr.Internal(err)
	}

	now := s.now().UTC()

	created, err := s.store.Create(ctx, user.User{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      hash,
		Verify:            false,
		VerificationToken: &verificationToken,
		Subscription:      sub,
		AvatarURL:         avatar.DefaultURL(email),
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		// lost a race with a concurrent registration of the same email
		if errors.Is(err, user.ErrEmailTaken) {
			return user.Public{}, apperr.Conflict(msgEmailInUse)
		}
		return user.Public{}, apperr.Internal(err)
	}

	// The account already exists at this point; a failed send is recoverable
	// through ResendVerification so it does not fail the registration.
	if err := s.sendVerification(ctx, created.Email, verificationToken); err != nil {
		s.log.WarnContext(ctx, "verification email not sent", "user_id", created.ID, "err", err)
	}

	return created.Public(), nil
}

// VerifyEmail consumes a verification token. A consumed token no longer
// matches any user, so a repeated call reports NotFound.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return apperr.NotFound(msgUserNotFound)
	}

	if _, err := s.store.ConsumeVerificationToken(ctx, token); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return apperr.NotFound(msgUserNotFound)
		}
		return apperr.Internal(err)
	}

	return nil
}

func (s *Service) ResendVerification(ctx context.Context, email string) error {
	u, err := s.store.GetByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return apperr.NotFound(msgUserNotFound)
		}
		return apperr.Internal(err)
	}

	if u.Verify {
		return apperr.BadRequest(msgAlreadyVerified)
	}

	if u.VerificationToken == nil || *u.VerificationToken == "" {
		return apperr.Internal(fmt.Errorf("unverified user %s has no verification token", u.ID))
	}

	if err := s.sendVerification(ctx, u.Email, *u.VerificationToken); err != nil {
		return apperr.Internal(err)
	}

	return nil
}

// Login checks verification before the password, so an unverified account
// answers with its own message even when the password is wrong.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	u, err := s.store.GetByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return LoginResult{}, apperr.Unauthorized(msgInvalidCredentials)
		}
		return LoginResult{}, apperr.Internal(err)
	}

	if !u.Verify {
		return LoginResult{}, apperr.Unauthorized(msgNotVerified)
	}

	if err := security.CheckPassword(u.PasswordHash, password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return LoginResult{}, apperr.Unauthorized(msgInvalidCredentials)
		}
		return LoginResult{}, apperr.Internal(err)
	}

	token, err := s.tokens.GenerateSessionToken(u.ID)
	if err != nil {
		return LoginResult{}, apperr.Internal(err)
	}

	// overwrites any previous session
	if err := s.store.SetToken(ctx, u.ID, token); err != nil {
		return LoginResult{}, apperr.Internal(err)
	}

	return LoginResult{Token: token, User: u.Public()}, nil
}

// Authenticate resolves a bearer token to its user. The token must be the
// one currently stored, so logout and a newer login both revoke it.
func (s *Service) Authenticate(ctx context.Context, raw string) (user.User, error) {
	claims, err := s.tokens.VerifySessionToken(raw)
	if err != nil {
		return user.User{}, apperr.Unauthorized(msgNotAuthorized)
	}

	u, err := s.store.GetByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, apperr.Unauthorized(msgNotAuthorized)
		}
		return user.User{}, apperr.Internal(err)
	}

	if u.Token == "" || u.Token != raw {
		return user.User{}, apperr.Unauthorized(msgNotAuthorized)
	}

	return u, nil
}

func (s *Service) GetCurrent(_ context.Context, u user.User) user.Public {
	return u.Public()
}

func (s *Service) Logout(ctx context.Context, userID string) error {
	err := s.store.SetToken(ctx, userID, "")
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return apperr.Internal(err)
	}
	return nil
}

// PatchSubscription changes the plan and nothing else.
func (s *Service) PatchSubscription(ctx context.Context, userID string, sub user.Subscription) (user.Profile, error) {
	if !sub.IsValid() {
		return user.Profile{}, apperr.BadRequest(msgInvalidSubscription)
	}

	u, err := s.store.UpdateSubscription(ctx, userID, sub)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.Profile{}, apperr.NotFound(msgNotFound)
		}
		return user.Profile{}, apperr.Internal(err)
	}

	return u.Profile(), nil
}

// UpdateAvatar resizes the upload and stores only the resized image. The
// temporary upload is removed afterwards and never moved into the avatar
// location, so there is a single writer for the final file.
func (s *Service) UpdateAvatar(ctx context.Context, userID string, up Upload) (string, error) {
	defer func() {
		if err := os.Remove(up.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.WarnContext(ctx, "temp upload not removed", "path", up.TempPath, "err", err)
		}
	}()

	base := filepath.Base(up.OriginalName)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "", apperr.BadRequest(msgUnsupportedImage)
	}
	filename := userID + "_" + base

	data, err := s.processor.Process(ctx, up.TempPath, filename)
	if err != nil {
		if errors.Is(err, avatar.ErrUnsupportedImage) {
			return "", apperr.Wrap(apperr.KindBadRequest, msgUnsupportedImage, err)
		}
		return "", apperr.Internal(err)
	}

	avatarURL, err := s.avatars.Save(ctx, filename, data)
	if err != nil {
		return "", apperr.Internal(err)
	}

	if err := s.store.UpdateAvatar(ctx, userID, avatarURL); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return "", apperr.NotFound(msgNotFound)
		}
		return "", apperr.Internal(err)
	}

	return avatarURL, nil
}

func (s *Service) sendVerification(ctx context.Context, to, token string) error {
	return s.notifier.Send(ctx, notifications.Message{
		To:      to,
		From:    s.opts.MailFrom,
		Subject: verifySubject,
		Text:    fmt.Sprintf("Click to verify email %s%s%s", s.opts.BaseURL, verifyPath, token),
	})
}
