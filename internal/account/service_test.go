package account_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/accounthub/internal/account"
	"github.com/geocoder89/accounthub/internal/apperr"
	"github.com/geocoder89/accounthub/internal/auth"
	"github.com/geocoder89/accounthub/internal/avatar"
	"github.com/geocoder89/accounthub/internal/domain/user"
	"github.com/geocoder89/accounthub/internal/notifications"
	"github.com/geocoder89/accounthub/internal/repo/memory"
	"github.com/stretchr/testify/require"
)

const baseURL = "http://accounts.test"

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notifications.Message
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg notifications.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) messages() []notifications.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Message(nil), n.sent...)
}

type fixture struct {
	svc        *account.Service
	repo       *memory.UsersRepo
	notifier   *recordingNotifier
	tokens     *auth.Manager
	avatarsDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "avatars")
	store, err := avatar.NewLocalStore(dir)
	require.NoError(t, err)

	f := &fixture{
		repo:       memory.NewUsersRepo(),
		notifier:   &recordingNotifier{},
		tokens:     auth.NewManager("service-test-secret", 23*time.Hour),
		avatarsDir: dir,
	}
	f.svc = account.NewService(
		f.repo,
		f.notifier,
		f.tokens,
		avatar.NewImagingProcessor(250, 250),
		store,
		account.Options{BaseURL: baseURL + "/", MailFrom: "noreply@accounts.test"},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

func requireKind(t *testing.T, err error, kind apperr.Kind, msg string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "err=%v", err)
	if msg != "" {
		require.Equal(t, msg, apperr.MessageOf(err))
	}
}

func (f *fixture) register(t *testing.T, email, password string) string {
	t.Helper()
	_, err := f.svc.Register(context.Background(), account.RegisterInput{Email: email, Password: password})
	require.NoError(t, err)

	msgs := f.notifier.messages()
	require.NotEmpty(t, msgs)
	prefix := "Click to verify email " + baseURL + "/api/users/verify/"
	text := msgs[len(msgs)-1].Text
	require.True(t, strings.HasPrefix(text, prefix), text)
	return strings.TrimPrefix(text, prefix)
}

func (f *fixture) verifiedLogin(t *testing.T, email, password string) account.LoginResult {
	t.Helper()
	ctx := context.Background()
	token := f.register(t, email, password)
	require.NoError(t, f.svc.VerifyEmail(ctx, token))
	res, err := f.svc.Login(ctx, email, password)
	require.NoError(t, err)
	return res
}

func TestRegister_CreatesUnverifiedUserAndSendsOneEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pub, err := f.svc.Register(ctx, account.RegisterInput{Email: "  Ann@Example.com ", Password: "secret123"})
	require.NoError(t, err)
	require.Equal(t, user.Public{Email: "ann@example.com", Subscription: user.SubscriptionStarter}, pub)

	u, err := f.repo.GetByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	require.False(t, u.Verify)
	require.NotNil(t, u.VerificationToken)
	require.Len(t, *u.VerificationToken, 43)
	require.NotEqual(t, "secret123", u.PasswordHash)
	require.Equal(t, avatar.DefaultURL("ann@example.com"), u.AvatarURL)
	require.Empty(t, u.Token)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, notifications.Message{
		To:      "ann@example.com",
		From:    "noreply@accounts.test",
		Subject: "Verify email",
		Text:    "Click to verify email " + baseURL + "/api/users/verify/" + *u.VerificationToken,
	}, msgs[0])
}

func TestRegister_DuplicateEmailIsConflict(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob@example.com", "secret123")

	_, err := f.svc.Register(context.Background(), account.RegisterInput{Email: "BOB@example.com", Password: "x"})
	requireKind(t, err, apperr.KindConflict, "Email in use")
	require.Equal(t, 1, f.repo.Count())
	require.Len(t, f.notifier.messages(), 1)
}

func TestRegister_ConcurrentDuplicatesYieldOneUser(t *testing.T) {
	f := newFixture(t)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(context.Background(), account.RegisterInput{Email: "race@example.com", Password: "secret123"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		requireKind(t, err, apperr.KindConflict, "Email in use")
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, f.repo.Count())
}

func TestRegister_SendFailureKeepsAccount(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp unavailable")

	_, err := f.svc.Register(context.Background(), account.RegisterInput{Email: "c@example.com", Password: "secret123"})
	require.NoError(t, err)
	require.Equal(t, 1, f.repo.Count())

	f.notifier.err = nil
	require.NoError(t, f.svc.ResendVerification(context.Background(), "c@example.com"))
	require.Len(t, f.notifier.messages(), 1)
}

func TestRegister_RejectsUnknownPlan(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), account.RegisterInput{Email: "d@example.com", Password: "x", Subscription: "gold"})
	requireKind(t, err, apperr.KindBadRequest, "")
	require.Zero(t, f.repo.Count())
}

func TestVerifyEmail_IsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.register(t, "e@example.com", "secret123")

	require.NoError(t, f.svc.VerifyEmail(ctx, token))

	u, err := f.repo.GetByEmail(ctx, "e@example.com")
	require.NoError(t, err)
	require.True(t, u.Verify)
	require.Nil(t, u.VerificationToken)

	requireKind(t, f.svc.VerifyEmail(ctx, token), apperr.KindNotFound, "User not found")
	requireKind(t, f.svc.VerifyEmail(ctx, "unknown"), apperr.KindNotFound, "User not found")
	requireKind(t, f.svc.VerifyEmail(ctx, ""), apperr.KindNotFound, "User not found")
}

func TestVerifyEmail_ConcurrentCallsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.register(t, "race@example.com", "secret123")

	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.VerifyEmail(ctx, token)
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		requireKind(t, err, apperr.KindNotFound, "User not found")
	}
	require.Equal(t, 1, ok)
}

func TestRegister_RejectsPasswordOverBcryptLimit(t *testing.T) {
	f := newFixture(t)

	// 42 runes, 84 bytes.
	long := strings.Repeat("пароль", 7)
	_, err := f.svc.Register(context.Background(), account.RegisterInput{Email: "long@example.com", Password: long})
	requireKind(t, err, apperr.KindBadRequest, "Password must be at most 72 bytes")
	require.Zero(t, f.repo.Count())
}

func TestResendVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	requireKind(t, f.svc.ResendVerification(ctx, "ghost@example.com"), apperr.KindNotFound, "User not found")

	token := f.register(t, "f@example.com", "secret123")
	require.NoError(t, f.svc.ResendVerification(ctx, "F@example.com"))

	msgs := f.notifier.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, msgs[0], msgs[1])
	require.True(t, strings.HasSuffix(msgs[1].Text, token))

	require.NoError(t, f.svc.VerifyEmail(ctx, token))
	requireKind(t, f.svc.ResendVerification(ctx, "f@example.com"), apperr.KindBadRequest, "Verification has already been passed")
}

func TestResendVerification_SendFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "h@example.com", "secret123")

	f.notifier.err = errors.New("smtp down")
	err := f.svc.ResendVerification(ctx, "h@example.com")
	requireKind(t, err, apperr.KindInternal, "Internal server error")
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.register(t, "i@example.com", "secret123")

	// unverified wins over the password check
	_, err := f.svc.Login(ctx, "i@example.com", "wrong")
	requireKind(t, err, apperr.KindUnauthorized, "Your account is not verified")

	require.NoError(t, f.svc.VerifyEmail(ctx, token))

	_, err = f.svc.Login(ctx, "i@example.com", "wrong")
	requireKind(t, err, apperr.KindUnauthorized, "Email or password invalid")

	_, err = f.svc.Login(ctx, "nobody@example.com", "secret123")
	requireKind(t, err, apperr.KindUnauthorized, "Email or password invalid")

	res, err := f.svc.Login(ctx, "i@example.com", "secret123")
	require.NoError(t, err)
	require.Equal(t, user.Public{Email: "i@example.com", Subscription: user.SubscriptionStarter}, res.User)

	claims, err := f.tokens.VerifySessionToken(res.Token)
	require.NoError(t, err)
	u, err := f.repo.GetByEmail(ctx, "i@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.UserID())
	require.Equal(t, 23*time.Hour, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
	require.Equal(t, res.Token, u.Token)
}

func TestAuthenticateAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.verifiedLogin(t, "j@example.com", "secret123")

	u, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, "j@example.com", u.Email)
	require.Equal(t, user.Public{Email: "j@example.com", Subscription: user.SubscriptionStarter}, f.svc.GetCurrent(ctx, u))

	_, err = f.svc.Authenticate(ctx, "not-a-jwt")
	requireKind(t, err, apperr.KindUnauthorized, "Not authorized")

	require.NoError(t, f.svc.Logout(ctx, u.ID))
	require.NoError(t, f.svc.Logout(ctx, u.ID))

	_, err = f.svc.Authenticate(ctx, res.Token)
	requireKind(t, err, apperr.KindUnauthorized, "Not authorized")

	stored, err := f.repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, stored.Token)
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	f := newFixture(t)

	tok, err := f.tokens.GenerateSessionToken("00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(context.Background(), tok)
	requireKind(t, err, apperr.KindUnauthorized, "Not authorized")
}

func TestPatchSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verifiedLogin(t, "k@example.com", "secret123")
	u, err := f.repo.GetByEmail(ctx, "k@example.com")
	require.NoError(t, err)

	profile, err := f.svc.PatchSubscription(ctx, u.ID, user.SubscriptionBusiness)
	require.NoError(t, err)
	require.Equal(t, user.Profile{
		Email:        "k@example.com",
		Subscription: user.SubscriptionBusiness,
		AvatarURL:    u.AvatarURL,
		Verify:       true,
	}, profile)

	_, err = f.svc.PatchSubscription(ctx, u.ID, "gold")
	requireKind(t, err, apperr.KindBadRequest, "")

	_, err = f.svc.PatchSubscription(ctx, "missing", user.SubscriptionPro)
	requireKind(t, err, apperr.KindNotFound, "Not found")

	stored, err := f.repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, user.SubscriptionBusiness, stored.Subscription)
	require.Equal(t, u.Email, stored.Email)
	require.Equal(t, u.PasswordHash, stored.PasswordHash)
}

func writeUpload(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		img.Set(y%w, y, color.RGBA{G: 180, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	path := filepath.Join(t.TempDir(), "upload-123.jpg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestUpdateAvatar_StoresResizedImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verifiedLogin(t, "l@example.com", "secret123")
	u, err := f.repo.GetByEmail(ctx, "l@example.com")
	require.NoError(t, err)

	tmp := writeUpload(t, 640, 480)

	url, err := f.svc.UpdateAvatar(ctx, u.ID, account.Upload{TempPath: tmp, OriginalName: "../../photo.jpg"})
	require.NoError(t, err)
	require.Equal(t, "avatars/"+u.ID+"_photo.jpg", url)

	file, err := os.Open(filepath.Join(f.avatarsDir, u.ID+"_photo.jpg"))
	require.NoError(t, err)
	defer file.Close()
	cfg, format, err := image.DecodeConfig(file)
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 250, cfg.Width)
	require.Equal(t, 250, cfg.Height)

	_, err = os.Stat(tmp)
	require.True(t, os.IsNotExist(err), "temp upload should be removed")

	stored, err := f.repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, url, stored.AvatarURL)
}

func TestUpdateAvatar_RejectsNonImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verifiedLogin(t, "m@example.com", "secret123")
	u, err := f.repo.GetByEmail(ctx, "m@example.com")
	require.NoError(t, err)

	tmp := filepath.Join(t.TempDir(), "upload-1.png")
	require.NoError(t, os.WriteFile(tmp, []byte("plain text"), 0o600))

	_, err = f.svc.UpdateAvatar(ctx, u.ID, account.Upload{TempPath: tmp, OriginalName: "notes.png"})
	requireKind(t, err, apperr.KindBadRequest, "Unsupported image file")

	_, err = os.Stat(tmp)
	require.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(f.avatarsDir)
	require.NoError(t, err)
	require.Empty(t, entries)

	stored, err := f.repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.AvatarURL, stored.AvatarURL)
}
