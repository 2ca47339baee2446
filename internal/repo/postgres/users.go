package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/accounthub/internal/domain/user"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id::text, email, password_hash, verify, verification_token, subscription, token, avatar_url, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	var out user.User

	err := r.prom.ObserveDB("users.create", func() error {
		row := r.pool.QueryRow(ctx,
			`INSERT INTO users (id, email, password_hash, verify, verification_token, subscription, token, avatar_url, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING `+userColumns,
			u.ID, u.Email, u.PasswordHash, u.Verify, u.VerificationToken, string(u.Subscription), u.Token, u.AvatarURL, u.CreatedAt, u.UpdatedAt,
		)

		var err error
		out, err = scanUser(row)
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrEmailTaken
		}
		return user.User{}, err
	}
	return out, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	uid, ok := parseID(id)
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return r.getOne(ctx, "users.get_by_id", `SELECT `+userColumns+` FROM users WHERE id = $1`, uid)
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_email", `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// ConsumeVerificationToken verifies and clears in a single statement, so two
// concurrent requests with one token cannot both succeed.
func (r *UsersRepo) ConsumeVerificationToken(ctx context.Context, token string) (user.User, error) {
	return r.getOne(ctx, "users.consume_verification_token",
		`UPDATE users SET verify = TRUE, verification_token = NULL, updated_at = $2
		 WHERE verification_token = $1
		 RETURNING `+userColumns,
		token, time.Now().UTC(),
	)
}

func (r *UsersRepo) SetToken(ctx context.Context, id, token string) error {
	uid, ok := parseID(id)
	if !ok {
		return user.ErrNotFound
	}
	return r.exec(ctx, "users.set_token",
		`UPDATE users SET token = $2, updated_at = $3 WHERE id = $1`,
		uid, token, time.Now().UTC(),
	)
}

func (r *UsersRepo) UpdateSubscription(ctx context.Context, id string, sub user.Subscription) (user.User, error) {
	uid, ok := parseID(id)
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return r.getOne(ctx, "users.update_subscription",
		`UPDATE users SET subscription = $2, updated_at = $3 WHERE id = $1 RETURNING `+userColumns,
		uid, string(sub), time.Now().UTC(),
	)
}

func (r *UsersRepo) UpdateAvatar(ctx context.Context, id, avatarURL string) error {
	uid, ok := parseID(id)
	if !ok {
		return user.ErrNotFound
	}
	return r.exec(ctx, "users.update_avatar",
		`UPDATE users SET avatar_url = $2, updated_at = $3 WHERE id = $1`,
		uid, avatarURL, time.Now().UTC(),
	)
}

// parseID rejects ids that cannot be a row key, so queries compare the uuid
// column directly and keep the primary key index.
func parseID(id string) (uuid.UUID, bool) {
	uid, err := uuid.Parse(id)
	return uid, err == nil
}

func (r *UsersRepo) getOne(ctx context.Context, op, query string, args ...any) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB(op, func() error {
		var err error
		u, err = scanUser(r.pool.QueryRow(ctx, query, args...))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) exec(ctx context.Context, op, query string, args ...any) error {
	var affected int64

	err := r.prom.ObserveDB(op, func() error {
		tag, err := r.pool.Exec(ctx, query, args...)
		affected = tag.RowsAffected()
		return err
	})

	if err != nil {
		return err
	}
	if affected == 0 {
		return user.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (user.User, error) {
	var (
		u   user.User
		sub string
	)

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Verify,
		&u.VerificationToken,
		&sub,
		&u.Token,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return user.User{}, err
	}

	u.Subscription = user.Subscription(sub)
	return u, nil
}
