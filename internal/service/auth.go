package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skillbridge/auth-service/internal/audit"
	"github.com/skillbridge/auth-service/internal/domain"
	"github.com/skillbridge/auth-service/internal/guard"
	"github.com/skillbridge/auth-service/internal/password"
	"github.com/skillbridge/auth-service/internal/repository"
	"github.com/skillbridge/auth-service/internal/token"
	apperrors "github.com/skillbridge/auth-service/pkg/errors"
)

// DefaultResetTokenTTL is how long a password reset token stays valid.
const DefaultResetTokenTTL = time.Hour

// ResetNotifier hands freshly issued password reset tokens to the
// delivery channel that gets them to the account holder. The token
// never appears in an API response, so this is its only way out.
type ResetNotifier interface {
	PublishPasswordReset(ctx context.Context, account *domain.Account, resetToken string, expiresAt time.Time) error
}

// NopResetNotifier discards reset tokens. Used in tests and when no
// broker is configured.
type NopResetNotifier struct{}

func (NopResetNotifier) PublishPasswordReset(ctx context.Context, account *domain.Account, resetToken string, expiresAt time.Time) error {
	return nil
}

// AuthService implements the business logic for signup, login, token
// lifecycle, and password recovery.
type AuthService struct {
	accounts repository.AccountRepository
	tokens   repository.TokenRepository
	hasher   *password.Hasher
	codec    *token.Codec
	guard    *guard.Guard
	sink     audit.Sink
	notifier ResetNotifier
	logger   *slog.Logger
	resetTTL time.Duration
}

// NewAuthService creates a new auth service. A zero resetTTL falls back to
// DefaultResetTokenTTL.
func NewAuthService(
	accounts repository.AccountRepository,
	tokens repository.TokenRepository,
	hasher *password.Hasher,
	codec *token.Codec,
	g *guard.Guard,
	sink audit.Sink,
	notifier ResetNotifier,
	logger *slog.Logger,
	resetTTL time.Duration,
) *AuthService {
	if resetTTL <= 0 {
		resetTTL = DefaultResetTokenTTL
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	if notifier == nil {
		notifier = NopResetNotifier{}
	}
	return &AuthService{
		accounts: accounts,
		tokens:   tokens,
		hasher:   hasher,
		codec:    codec,
		guard:    g,
		sink:     sink,
		notifier: notifier,
		logger:   logger,
		resetTTL: resetTTL,
	}
}

// RequestMeta carries per-request client attributes into the audit trail
// and token records.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// SignupInput holds the parameters for registering a new account.
type SignupInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	FullName        string
	Role            string
}

// LoginInput holds the parameters for account login.
type LoginInput struct {
	Email    string
	Password string
}

// --- Operations ---

// Signup creates a new account and issues its first token pair. The admin
// role can never be self-assigned, and mentors start in pending approval
// rather than active. Signup failures leave no audit trail; there is no
// account to attribute them to yet.
func (s *AuthService) Signup(ctx context.Context, input SignupInput, meta RequestMeta) (*domain.Account, *domain.TokenPair, error) {
	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.FullName == "" {
		return nil, nil, apperrors.InvalidInput("full name is required")
	}

	role, ok := domain.ParseRole(input.Role)
	if !ok {
		return nil, nil, apperrors.InvalidInput(fmt.Sprintf("unknown role %q", input.Role))
	}
	if !role.SelfAssignable() {
		return nil, nil, apperrors.Forbidden(fmt.Sprintf("role %q cannot be self-assigned", input.Role))
	}

	if input.Password != input.ConfirmPassword {
		return nil, nil, apperrors.InvalidInput("password confirmation does not match")
	}
	if violations := password.ValidateStrength(input.Password); len(violations) > 0 {
		return nil, nil, apperrors.ValidationFailed(violations)
	}

	hashedPassword, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:           uuid.New().String(),
		Email:        email,
		FullName:     input.FullName,
		PasswordHash: hashedPassword,
		Role:         role,
		Status:       role.InitialStatus(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, nil, fmt.Errorf("create account: %w", err)
	}

	tokens, err := s.issueTokenPair(ctx, account, meta)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.audit(ctx, audit.Event{
		AccountID: account.ID,
		Email:     account.Email,
		Action:    audit.ActionSignup,
		Outcome:   audit.OutcomeSuccess,
		IP:        meta.IP, UserAgent: meta.UserAgent,
	})

	s.logger.InfoContext(ctx, "account created",
		slog.String("account_id", account.ID),
		slog.String("role", string(account.Role)),
		slog.String("status", string(account.Status)),
	)

	return account, tokens, nil
}

// Login authenticates an account and returns a token pair. Unknown emails
// and wrong passwords produce the identical error, so a caller cannot probe
// which addresses have accounts.
func (s *AuthService) Login(ctx context.Context, input LoginInput, meta RequestMeta) (*domain.Account, *domain.TokenPair, error) {
	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		// Burn a hash comparison anyway so response timing does not
		// separate unknown emails from wrong passwords.
		s.hasher.Verify(input.Password, dummyHash)
		s.audit(ctx, audit.Event{
			Email:   email,
			Action:  audit.ActionLogin,
			Outcome: audit.OutcomeFailure,
			Reason:  "unknown email",
			IP:      meta.IP, UserAgent: meta.UserAgent,
		})
		return nil, nil, apperrors.InvalidCredentials()
	}

	if err := s.guard.CheckLocked(account); err != nil {
		s.audit(ctx, audit.Event{
			AccountID: account.ID,
			Email:     account.Email,
			Action:    audit.ActionLogin,
			Outcome:   audit.OutcomeDenied,
			Reason:    "account locked",
			IP:        meta.IP, UserAgent: meta.UserAgent,
		})
		return nil, nil, err
	}

	if !s.hasher.Verify(input.Password, account.PasswordHash) {
		locked := s.guard.RecordFailure(ctx, account.ID)
		action := audit.ActionLogin
		if locked {
			action = audit.ActionAccountLocked
		}
		s.audit(ctx, audit.Event{
			AccountID: account.ID,
			Email:     account.Email,
			Action:    action,
			Outcome:   audit.OutcomeFailure,
			Reason:    "wrong password",
			IP:        meta.IP, UserAgent: meta.UserAgent,
		})
		return nil, nil, apperrors.InvalidCredentials()
	}

	if reason := account.Status.LoginBlockedReason(); reason != "" {
		s.audit(ctx, audit.Event{
			AccountID: account.ID,
			Email:     account.Email,
			Action:    audit.ActionLogin,
			Outcome:   audit.OutcomeDenied,
			Reason:    string(account.Status),
			IP:        meta.IP, UserAgent: meta.UserAgent,
		})
		return nil, nil, apperrors.AccountNotActive(reason)
	}

	if err := s.guard.RecordSuccess(ctx, account.ID); err != nil {
		return nil, nil, err
	}

	tokens, err := s.issueTokenPair(ctx, account, meta)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.audit(ctx, audit.Event{
		AccountID: account.ID,
		Email:     account.Email,
		Action:    audit.ActionLogin,
		Outcome:   audit.OutcomeSuccess,
		IP:        meta.IP, UserAgent: meta.UserAgent,
	})

	s.logger.InfoContext(ctx, "account logged in",
		slog.String("account_id", account.ID),
	)

	return account, tokens, nil
}

// Refresh rotates a refresh token: the presented token is spent and a new
// pair is issued. Presenting an already-spent token is treated as replay
// and revokes every live session for the account.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.InvalidInput("refresh token is required")
	}

	claims, err := s.codec.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	_, err = s.tokens.Redeem(ctx, token.Hash(refreshToken), domain.TokenKindRefresh)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrTokenUsed):
			// Someone is replaying a spent token. Either the legitimate
			// client or the attacker holds the live descendant; kill
			// both and force a fresh login.
			if revokeErr := s.tokens.RevokeAllForAccount(context.WithoutCancel(ctx), claims.AccountID, domain.TokenKindRefresh); revokeErr != nil {
				s.logger.ErrorContext(ctx, "failed to revoke sessions after token replay",
					slog.String("account_id", claims.AccountID),
					slog.String("error", revokeErr.Error()),
				)
			}
			s.audit(ctx, audit.Event{
				AccountID: claims.AccountID,
				Action:    audit.ActionTokenReplay,
				Outcome:   audit.OutcomeDenied,
				IP:        meta.IP, UserAgent: meta.UserAgent,
			})
			s.logger.WarnContext(ctx, "refresh token replay detected, all sessions revoked",
				slog.String("account_id", claims.AccountID),
			)
			return nil, apperrors.TokenUsed()
		case errors.Is(err, apperrors.ErrTokenExpired):
			return nil, apperrors.TokenExpired()
		case errors.Is(err, apperrors.ErrNotFound):
			return nil, apperrors.TokenMalformed()
		default:
			return nil, fmt.Errorf("redeem refresh token: %w", err)
		}
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		return nil, apperrors.TokenMalformed()
	}

	if reason := account.Status.LoginBlockedReason(); reason != "" {
		return nil, apperrors.AccountNotActive(reason)
	}

	tokens, err := s.issueTokenPair(ctx, account, meta)
	if err != nil {
		return nil, fmt.Errorf("generate tokens: %w", err)
	}

	s.audit(ctx, audit.Event{
		AccountID: account.ID,
		Action:    audit.ActionRefresh,
		Outcome:   audit.OutcomeSuccess,
		IP:        meta.IP, UserAgent: meta.UserAgent,
	})

	return tokens, nil
}

// Logout revokes every outstanding refresh token for the account behind the
// presented token, ending all of its sessions. Logging out twice is
// harmless; the second call finds nothing left to revoke.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta RequestMeta) error {
	if refreshToken == "" {
		return apperrors.InvalidInput("refresh token is required")
	}

	claims, err := s.codec.ValidateRefreshToken(refreshToken)
	if err != nil {
		return err
	}

	if err := s.tokens.RevokeAllForAccount(ctx, claims.AccountID, domain.TokenKindRefresh); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	s.audit(ctx, audit.Event{
		AccountID: claims.AccountID,
		Action:    audit.ActionLogout,
		Outcome:   audit.OutcomeSuccess,
		IP:        meta.IP, UserAgent: meta.UserAgent,
	})

	s.logger.InfoContext(ctx, "account logged out",
		slog.String("account_id", claims.AccountID),
	)

	return nil
}

// RequestPasswordReset issues a single-use reset token for the account
// and hands it to the notifier for delivery. Unknown emails return
// success without issuing anything so the endpoint reveals nothing.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		s.logger.InfoContext(ctx, "password reset requested for unknown email",
			slog.String("email", email),
		)
		return nil
	}

	resetToken, err := token.NewOpaque()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	// A newer request supersedes any outstanding reset token.
	if err := s.tokens.RevokeAllForAccount(ctx, account.ID, domain.TokenKindPasswordReset); err != nil {
		return fmt.Errorf("revoke previous reset tokens: %w", err)
	}

	now := time.Now().UTC()
	record := &domain.AuthToken{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		TokenHash: token.Hash(resetToken),
		Kind:      domain.TokenKindPasswordReset,
		ExpiresAt: now.Add(s.resetTTL),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	// Delivery failures are logged, not surfaced; the endpoint response
	// must stay the same whether or not the email exists.
	if err := s.notifier.PublishPasswordReset(ctx, account, resetToken, record.ExpiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish password reset event",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.audit(ctx, audit.Event{
		AccountID: account.ID,
		Email:     account.Email,
		Action:    audit.ActionResetRequest,
		Outcome:   audit.OutcomeSuccess,
		IP:        meta.IP, UserAgent: meta.UserAgent,
	})

	s.logger.InfoContext(ctx, "password reset requested",
		slog.String("account_id", account.ID),
	)

	return nil
}

// ConfirmPasswordReset spends the reset token, sets the new password, and
// revokes every refresh token for the account in one transaction. The new
// password is checked before the store is touched.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword, confirmPassword string, meta RequestMeta) error {
	if resetToken == "" {
		return apperrors.InvalidInput("reset token is required")
	}
	if newPassword != confirmPassword {
		return apperrors.InvalidInput("password confirmation does not match")
	}
	if violations := password.ValidateStrength(newPassword); len(violations) > 0 {
		return apperrors.ValidationFailed(violations)
	}

	record, err := s.tokens.Redeem(ctx, token.Hash(resetToken), domain.TokenKindPasswordReset)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrTokenUsed):
			return apperrors.TokenUsed()
		case errors.Is(err, apperrors.ErrTokenExpired):
			return apperrors.TokenExpired()
		case errors.Is(err, apperrors.ErrNotFound):
			return apperrors.TokenMalformed()
		default:
			return fmt.Errorf("redeem reset token: %w", err)
		}
	}

	hashedPassword, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	if err := s.accounts.CompletePasswordReset(ctx, record.AccountID, hashedPassword, record.ID); err != nil {
		return fmt.Errorf("complete password reset: %w", err)
	}

	s.audit(ctx, audit.Event{
		AccountID: record.AccountID,
		Action:    audit.ActionResetConfirm,
		Outcome:   audit.OutcomeSuccess,
		IP:        meta.IP, UserAgent: meta.UserAgent,
	})

	s.logger.InfoContext(ctx, "password reset completed",
		slog.String("account_id", record.AccountID),
	)

	return nil
}

// ChangePassword lets an authenticated account change its password. All
// refresh tokens are revoked afterwards so stolen sessions die with the
// old password.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperrors.InvalidInput("current password is required")
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}
	if violations := password.ValidateStrength(newPassword); len(violations) > 0 {
		return apperrors.ValidationFailed(violations)
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("get account for password change: %w", err)
	}

	if !s.hasher.Verify(currentPassword, account.PasswordHash) {
		return apperrors.Unauthorized("current password is incorrect")
	}

	hashedPassword, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	if err := s.accounts.UpdatePassword(ctx, account.ID, hashedPassword); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.tokens.RevokeAllForAccount(ctx, account.ID, domain.TokenKindRefresh); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke refresh tokens after password change",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("account_id", account.ID),
	)

	return nil
}

// GetAccount retrieves an account by its ID.
func (s *AuthService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// tokenRetention is how long expired token records are kept around.
// Spent and expired records still distinguish "expired" from "unknown"
// on redemption, so they are not deleted the moment they lapse.
const tokenRetention = 24 * time.Hour

// PurgeExpiredTokens deletes token records that expired more than the
// retention window ago. The server runs this periodically.
func (s *AuthService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	deleted, err := s.tokens.DeleteExpired(ctx, time.Now().UTC().Add(-tokenRetention))
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}

	if deleted > 0 {
		s.logger.InfoContext(ctx, "purged expired tokens",
			slog.Int64("deleted", deleted),
		)
	}

	return deleted, nil
}

// issueTokenPair persists a refresh token record and signs both tokens.
// Only the SHA-256 of the signed refresh token is stored.
func (s *AuthService) issueTokenPair(ctx context.Context, account *domain.Account, meta RequestMeta) (*domain.TokenPair, error) {
	accessToken, err := s.codec.GenerateAccessToken(account.ID, account.Email, string(account.Role))
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	recordID := uuid.New().String()
	refreshToken, err := s.codec.GenerateRefreshToken(account.ID, recordID)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := time.Now().UTC()
	record := &domain.AuthToken{
		ID:        recordID,
		AccountID: account.ID,
		TokenHash: token.Hash(refreshToken),
		Kind:      domain.TokenKindRefresh,
		ExpiresAt: now.Add(s.codec.RefreshExpiry()),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.codec.AccessExpiry().Seconds()),
	}, nil
}

// audit appends to the trail without letting a broken sink fail the
// operation. The context is detached so a cancelled request still leaves
// its trace.
func (s *AuthService) audit(ctx context.Context, e audit.Event) {
	e.Timestamp = time.Now().UTC()
	ctx = context.WithoutCancel(ctx)
	if err := s.sink.Append(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "failed to append audit event",
			slog.String("action", e.Action),
			slog.String("error", err.Error()),
		)
	}
}

// normalizeEmail lowercases and trims the address so lookups and the
// live-email uniqueness constraint are case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// dummyHash is a valid bcrypt hash of a random string, compared against
// when the email lookup misses.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"
