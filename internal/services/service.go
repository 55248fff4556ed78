package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"babygpt/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailAlreadyExists = errors.New("an account with this email already exists")
	ErrUserDisabled       = errors.New("user disabled")
)

// DB 是 Service 依赖的最小查询接口，*pgxpool.Pool 满足该接口
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Service struct {
	db         DB
	now        func() time.Time
	bcryptCost int
}

func New(db DB) *Service {
	return &Service{db: db, now: time.Now, bcryptCost: bcrypt.DefaultCost}
}

const userColumns = `id, email, name, password_hash, provider, provider_id, status, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Provider, &user.ProviderID, &user.Status, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return user, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (s *Service) CreateUser(ctx context.Context, email, password, name string) (models.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" || !validEmail(email) {
		return models.User{}, ErrInvalidRequest
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return models.User{}, err
	}
	user, err := scanUser(s.db.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, provider, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		email, strings.TrimSpace(name), string(passwordHash), models.ProviderEmail, models.UserStatusActive,
	))
	if isUniqueViolation(err) {
		return models.User{}, ErrEmailAlreadyExists
	}
	return user, err
}

func (s *Service) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
}

// AuthenticateUser 验证邮箱密码
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	if email == "" || password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	if user.Status != models.UserStatusActive {
		return models.User{}, ErrUserDisabled
	}
	if user.PasswordHash == "" {
		return models.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// RegisterWithPassword 创建邮箱账号；邮箱已存在且密码正确时视为登录
func (s *Service) RegisterWithPassword(ctx context.Context, email, password string) (models.User, bool, error) {
	user, err := s.CreateUser(ctx, email, password, "")
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, ErrEmailAlreadyExists) {
		return models.User{}, false, err
	}
	user, err = s.AuthenticateUser(ctx, email, password)
	if errors.Is(err, ErrInvalidCredentials) {
		return models.User{}, false, ErrEmailAlreadyExists
	}
	if err != nil {
		return models.User{}, false, err
	}
	return user, false, nil
}

// GetOrCreateOAuthUser 通过第三方身份获取或创建用户
// 已有同邮箱的密码账号时绑定第三方身份，并清除未经验证的密码
func (s *Service) GetOrCreateOAuthUser(ctx context.Context, provider, providerID, email, name string) (models.User, bool, error) {
	email = normalizeEmail(email)
	if provider == "" || providerID == "" || email == "" {
		return models.User{}, false, ErrInvalidRequest
	}

	user, err := scanUser(s.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE provider = $1 AND provider_id = $2`, provider, providerID))
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.User{}, false, err
	}

	existing, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		_, err = s.db.Exec(ctx, `
			UPDATE users SET provider = $1, provider_id = $2,
				password_hash = CASE WHEN provider = $5 THEN '' ELSE password_hash END,
				name = CASE WHEN name = '' THEN $3 ELSE name END,
				updated_at = NOW()
			WHERE id = $4`, provider, providerID, name, existing.ID, models.ProviderEmail)
		if err != nil {
			return models.User{}, false, err
		}
		// 邮箱注册的地址未经验证，绑定后只能通过第三方登录
		if existing.Provider == models.ProviderEmail {
			existing.PasswordHash = ""
		}
		existing.Provider = provider
		existing.ProviderID = providerID
		if existing.Name == "" {
			existing.Name = name
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.User{}, false, err
	}

	user, err = scanUser(s.db.QueryRow(ctx, `
		INSERT INTO users (email, name, provider, provider_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		email, name, provider, providerID, models.UserStatusActive,
	))
	if err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}

// GetStripeCustomerID 查找用户对应的 Stripe customer
func (s *Service) GetStripeCustomerID(ctx context.Context, userID int64) (string, error) {
	var customerID string
	err := s.db.QueryRow(ctx, `SELECT stripe_customer_id FROM customers WHERE user_id = $1`, userID).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return customerID, err
}

// SaveStripeCustomer 保存映射并返回最终存储的 customer id
// 并发请求已写入时以已存在的为准
func (s *Service) SaveStripeCustomer(ctx context.Context, userID int64, customerID string) (string, error) {
	if userID == 0 || customerID == "" {
		return "", ErrInvalidRequest
	}
	var stored string
	err := s.db.QueryRow(ctx, `
		INSERT INTO customers (user_id, stripe_customer_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING stripe_customer_id`, userID, customerID,
	).Scan(&stored)
	if err != nil {
		return "", err
	}
	return stored, nil
}

// UpsertBillingProfile 写入账单联系信息，user_id 通过 customers 表关联
func (s *Service) UpsertBillingProfile(ctx context.Context, profile models.BillingProfile) error {
	if profile.StripeCustomerID == "" {
		return ErrInvalidRequest
	}
	address, err := json.Marshal(profile.Address)
	if err != nil {
		return fmt.Errorf("encode billing address: %w", err)
	}
	updatedAt := profile.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now().UTC()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO billing_profiles (stripe_customer_id, user_id, billing_name, billing_email, billing_address, updated_at)
		VALUES ($1, (SELECT user_id FROM customers WHERE stripe_customer_id = $1), $2, $3, $4, $5)
		ON CONFLICT (stripe_customer_id)
		DO UPDATE SET user_id = COALESCE(EXCLUDED.user_id, billing_profiles.user_id),
			billing_name = EXCLUDED.billing_name,
			billing_email = EXCLUDED.billing_email,
			billing_address = EXCLUDED.billing_address,
			updated_at = EXCLUDED.updated_at`,
		profile.StripeCustomerID, profile.Name, profile.Email, string(address), updatedAt)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
