package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/geocoder89/accounthub/internal/account"
	"github.com/geocoder89/accounthub/internal/apperr"
	"github.com/geocoder89/accounthub/internal/config"
	"github.com/geocoder89/accounthub/internal/domain/user"
	"github.com/geocoder89/accounthub/internal/http/middlewares"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/gin-gonic/gin"
)

const avatarField = "avatar"

type AccountService interface {
	Register(ctx context.Context, in account.RegisterInput) (user.Public, error)
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) error
	Login(ctx context.Context, email, password string) (account.LoginResult, error)
	GetCurrent(ctx context.Context, u user.User) user.Public
	Logout(ctx context.Context, userID string) error
	PatchSubscription(ctx context.Context, userID string, sub user.Subscription) (user.Profile, error)
	UpdateAvatar(ctx context.Context, userID string, up account.Upload) (string, error)
}

type UsersHandler struct {
	svc     AccountService
	prom    *observability.Prom
	log     *slog.Logger
	tmpDir  string
	timeout time.Duration
}

type UsersHandlerOptions struct {
	TempDir string
	// Timeout bounds the store work of a single request. Avatar uploads
	// get four times as long.
	Timeout time.Duration
}

func NewUsersHandler(svc AccountService, prom *observability.Prom, log *slog.Logger, opts UsersHandlerOptions) *UsersHandler {
	if log == nil {
		log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &UsersHandler{
		svc:     svc,
		prom:    prom,
		log:     log,
		tmpDir:  opts.TempDir,
		timeout: opts.Timeout,
	}
}

type RegisterRequest struct {
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6,max=72"`
	Subscription string `json:"subscription" binding:"omitempty,subscription"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type ResendVerifyRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type SubscriptionRequest struct {
	Subscription string `json:"subscription" binding:"required,subscription"`
}

func (h *UsersHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	pub, err := h.svc.Register(cctx, account.RegisterInput{
		Email:        req.Email,
		Password:     req.Password,
		Subscription: user.Subscription(req.Subscription),
	})
	h.count("register", err)
	if err != nil {
		RespondErr(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"user": pub})
}

func (h *UsersHandler) Verify(ctx *gin.Context) {
	token := ctx.Param("verificationToken")

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	err := h.svc.VerifyEmail(cctx, token)
	h.count("verify", err)
	if err != nil {
		RespondErr(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Verification successful"})
}

func (h *UsersHandler) ResendVerify(ctx *gin.Context) {
	var req ResendVerifyRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	err := h.svc.ResendVerification(cctx, req.Email)
	h.count("resend_verify", err)
	if err != nil {
		RespondErr(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Verify email send"})
}

func (h *UsersHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	res, err := h.svc.Login(cctx, req.Email, req.Password)
	h.count("login", err)
	if err != nil {
		RespondErr(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusOK, res)
}

func (h *UsersHandler) Current(ctx *gin.Context) {
	u, ok := middlewares.CurrentUser(ctx)
	if !ok {
		RespondErr(ctx, h.log, apperr.Unauthorized("Not authorized"))
		return
	}

	ctx.JSON(http.StatusOK, h.svc.GetCurrent(ctx.Request.Context(), u))
}

func (h *UsersHandler) Logout(ctx *gin.Context) {
	u, ok := middlewares.CurrentUser(ctx)
	if !ok {
		RespondErr(ctx, h.log, apperr.Unauthorized("Not authorized"))
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	err := h.svc.Logout(cctx, u.ID)
	h.count("logout", err)
	if err != nil {
		RespondErr(ctx, h.log, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *UsersHandler) Subscription(ctx *gin.Context) {
	u, ok := middlewares.CurrentUser(ctx)
	if !ok {
		RespondErr(ctx, h.log, apperr.Unauthorized("Not authorized"))
		return
	}

	var req SubscriptionRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	profile, err := h.svc.PatchSubscription(cctx, u.ID, user.Subscription(req.Subscription))
	h.count("subscription", err)
	if err != nil {
		RespondErr(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusOK, profile)
}

func (h *UsersHandler) Avatar(ctx *gin.Context) {
	u, ok := middlewares.CurrentUser(ctx)
	if !ok {
		RespondErr(ctx, h.log, apperr.Unauthorized("Not authorized"))
		return
	}

	fh, err := ctx.FormFile(avatarField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			RespondError(ctx, http.StatusRequestEntityTooLarge, "payload_too_large", "Avatar file is too large", nil)
			return
		}
		RespondBadRequest(ctx, "Avatar file is required", gin.H{"field": avatarField})
		return
	}

	// keep the extension so the decoder can pick the format
	tmp, err := os.CreateTemp(h.tmpDir, "upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		RespondErr(ctx, h.log, apperr.Internal(err))
		return
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := ctx.SaveUploadedFile(fh, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		RespondErr(ctx, h.log, apperr.Internal(err))
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 4*h.timeout)
	defer cancel()

	avatarURL, err := h.svc.UpdateAvatar(cctx, u.ID, account.Upload{
		TempPath:     tmpPath,
		OriginalName: fh.Filename,
	})
	h.count("avatar", err)
	if err != nil {
		RespondErr(ctx, h.log, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"avatarURL": avatarURL})
}

func (h *UsersHandler) count(op string, err error) {
	result := "ok"
	if err != nil {
		result = apperr.KindOf(err).String()
	}
	h.prom.CountOp(op, result)
}
