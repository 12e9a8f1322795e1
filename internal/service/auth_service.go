package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-photoshare/internal/event"
	"go-photoshare/internal/mailer"
	"go-photoshare/internal/model"
	"go-photoshare/internal/password"
	"go-photoshare/internal/session"
	"go-photoshare/internal/token"
)

// ReusePolicy decides what happens when a refresh token that is no longer current is presented.
type ReusePolicy string

const (
	// ReuseRevoke treats replay as theft and ends every session of the user.
	ReuseRevoke ReusePolicy = "revoke"
	// ReuseReject fails only the replayed request.
	ReuseReject ReusePolicy = "reject"
)

type AuthOptions struct {
	ActivationEnabled bool
	ReusePolicy       ReusePolicy
	PublicBaseURL     string
}

type AuthService struct {
	users     UserStore
	hasher    *password.Hasher
	tokens    *token.Issuer
	sessions  *session.Tracker
	mail      mailer.Mailer
	bus       event.Bus
	opts      AuthOptions
	dummyHash string
}

func NewAuthService(
	users UserStore,
	hasher *password.Hasher,
	tokens *token.Issuer,
	sessions *session.Tracker,
	mail mailer.Mailer,
	bus event.Bus,
	opts AuthOptions,
) (*AuthService, error) {
	switch opts.ReusePolicy {
	case "":
		opts.ReusePolicy = ReuseRevoke
	case ReuseRevoke, ReuseReject:
	default:
		return nil, fmt.Errorf("unknown refresh reuse policy %q", opts.ReusePolicy)
	}
	if mail == nil {
		mail = mailer.LogMailer{}
	}
	if bus == nil {
		bus = event.Nop{}
	}

	// Unknown usernames are verified against this so their timing matches a wrong password.
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &AuthService{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		sessions:  sessions,
		mail:      mail,
		bus:       bus,
		opts:      opts,
		dummyHash: dummy,
	}, nil
}

func (s *AuthService) Register(ctx context.Context, req model.SignupRequest) (model.AuthUser, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := req.Validate(); err != nil {
		return model.AuthUser{}, err
	}

	if err := s.ensureAvailable(ctx, req.Username, req.Email); err != nil {
		return model.AuthUser{}, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.AuthUser{}, err
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		Active:       !s.opts.ActivationEnabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return model.AuthUser{}, err
	}

	s.publish(event.TypeUserRegistered, user.ID, user.ID, map[string]any{"username": user.Username})

	if s.opts.ActivationEnabled {
		if err := s.sendConfirmation(ctx, user); err != nil {
			slog.Warn("confirmation email not sent", "user_id", user.ID, "error", err)
		}
	}

	return user.Public(), nil
}

// Login accepts either the username or the email as identifier.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (model.TokenPair, error) {
	identifier := strings.TrimSpace(req.Username)
	if identifier == "" || req.Password == "" {
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	user, err := s.lookup(ctx, identifier)
	if errors.Is(err, model.ErrUserNotFound) {
		_, _ = s.hasher.Verify(req.Password, s.dummyHash)
		s.publish(event.TypeLoginFailed, "", "", map[string]any{"reason": "unknown_user"})
		return model.TokenPair{}, model.ErrInvalidCredentials
	}
	if err != nil {
		return model.TokenPair{}, err
	}

	ok, err := s.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("user %s: %w", user.ID, err)
	}
	if !ok || !user.Active || user.Banned {
		s.publish(event.TypeLoginFailed, "", user.ID, map[string]any{"reason": loginFailure(ok, user)})
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, &user, req.Password)
	}

	fingerprint, err := s.sessions.Rotate(ctx, user.ID)
	if err != nil {
		return model.TokenPair{}, err
	}

	pair, err := s.issuePair(user, fingerprint)
	if err != nil {
		return model.TokenPair{}, err
	}

	s.publish(event.TypeSessionStarted, user.ID, user.ID, nil)
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. Each refresh token works once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	claims, err := s.tokens.Verify(strings.TrimSpace(refreshToken), token.KindRefresh)
	if err != nil {
		return model.TokenPair{}, err
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.TokenPair{}, fmt.Errorf("%w: unknown subject", model.ErrInvalidToken)
	}
	if err != nil {
		return model.TokenPair{}, err
	}
	if !user.Active || user.Banned {
		return model.TokenPair{}, model.ErrSessionRevoked
	}

	fingerprint, err := s.sessions.RotateFrom(ctx, user.ID, claims.Fingerprint)
	if errors.Is(err, model.ErrSessionRevoked) {
		return model.TokenPair{}, s.handleReuse(ctx, user.ID, claims.ID)
	}
	if err != nil {
		return model.TokenPair{}, err
	}

	pair, err := s.issuePair(user, fingerprint)
	if err != nil {
		return model.TokenPair{}, err
	}

	s.publish(event.TypeSessionRotated, user.ID, user.ID, nil)
	return pair, nil
}

// Logout ends every refresh session of the user. Calling it again is a no-op.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	err := s.sessions.RevokeAll(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.publish(event.TypeSessionRevoked, userID, userID, map[string]any{"reason": "logout"})
	return nil
}

// Authenticate turns an access token into a Principal. The role is never higher than the
// one currently stored, so a demotion takes effect before old access tokens expire.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (model.Principal, error) {
	claims, err := s.tokens.Verify(strings.TrimSpace(accessToken), token.KindAccess)
	if err != nil {
		return model.Principal{}, err
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.Principal{}, fmt.Errorf("%w: unknown subject", model.ErrInvalidToken)
	}
	if err != nil {
		return model.Principal{}, err
	}

	role := claims.Role
	if !user.Role.IsAtLeast(role) {
		role = user.Role
	}

	return model.Principal{
		UserID:   user.ID,
		Username: user.Username,
		Role:     role,
		Active:   user.Active && !user.Banned,
	}, nil
}

func (s *AuthService) ConfirmEmail(ctx context.Context, verifyToken string) (model.AuthUser, error) {
	claims, err := s.tokens.Verify(strings.TrimSpace(verifyToken), token.KindVerify)
	if err != nil {
		return model.AuthUser{}, err
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AuthUser{}, fmt.Errorf("%w: unknown subject", model.ErrInvalidToken)
	}
	if err != nil {
		return model.AuthUser{}, err
	}
	if !strings.EqualFold(claims.Email, user.Email) {
		return model.AuthUser{}, fmt.Errorf("%w: email changed since the token was issued", model.ErrInvalidToken)
	}
	if user.Confirmed {
		return user.Public(), nil
	}

	if err := s.users.SetConfirmed(ctx, user.ID, true); err != nil {
		return model.AuthUser{}, err
	}
	user.Confirmed = true

	if !user.Banned && !user.Active {
		if err := s.users.SetActive(ctx, user.ID, true); err != nil {
			return model.AuthUser{}, err
		}
		user.Active = true
	}

	s.publish(event.TypeUserActivated, user.ID, user.ID, nil)
	return user.Public(), nil
}

// RequestConfirmation resends the confirmation email. Unknown or already confirmed
// addresses succeed silently.
func (s *AuthService) RequestConfirmation(ctx context.Context, req model.EmailRequest) error {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := req.Validate(); err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if errors.Is(err, model.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.Confirmed || user.Banned {
		return nil
	}

	if err := s.sendConfirmation(ctx, user); err != nil {
		slog.Warn("confirmation email not sent", "user_id", user.ID, "error", err)
	}
	return nil
}

// ForgotPassword emails a reset link. The token is bound to the current password hash and
// stops working once the password changes.
func (s *AuthService) ForgotPassword(ctx context.Context, req model.EmailRequest) error {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := req.Validate(); err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if errors.Is(err, model.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.Banned {
		return nil
	}

	resetToken, err := s.tokens.IssueEmail(token.KindReset, user.ID, user.Email, credentialDigest(user.PasswordHash))
	if err != nil {
		return err
	}

	msg := mailer.Message{
		To:      user.Email,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Hello %s,\n\nUse this token to choose a new password:\n%s\n\nOr open %s/reset-password?token=%s\n\nIf you did not ask for this, ignore this email.\n",
			user.Username, resetToken, s.opts.PublicBaseURL, resetToken),
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		slog.Warn("password reset email not sent", "user_id", user.ID, "error", err)
		return nil
	}

	s.publish(event.TypePasswordResetReq, "", user.ID, nil)
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, req model.ResetPasswordRequest) error {
	req.Token = strings.TrimSpace(req.Token)
	if err := req.Validate(); err != nil {
		return err
	}

	claims, err := s.tokens.Verify(req.Token, token.KindReset)
	if err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if errors.Is(err, model.ErrUserNotFound) {
		return fmt.Errorf("%w: unknown subject", model.ErrInvalidToken)
	}
	if err != nil {
		return err
	}

	current := credentialDigest(user.PasswordHash)
	if subtle.ConstantTimeCompare([]byte(current), []byte(claims.Credential)) != 1 {
		return fmt.Errorf("%w: reset token already used", model.ErrInvalidToken)
	}

	return s.replacePassword(ctx, user.ID, user.ID, req.NewPassword, "reset")
}

func (s *AuthService) ChangePassword(ctx context.Context, userID string, req model.ChangePasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(req.CurrentPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrInvalidCredentials
	}

	return s.replacePassword(ctx, user.ID, user.ID, req.NewPassword, "change")
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (model.AuthUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.AuthUser{}, err
	}
	return user.Public(), nil
}

// EnsureAdmin creates the bootstrap administrator when no user with that name exists.
func (s *AuthService) EnsureAdmin(ctx context.Context, username string, email string, plaintext string) error {
	existing, err := s.users.FindByUsername(ctx, username)
	if err == nil {
		if existing.Role != model.RoleAdmin {
			slog.Warn("bootstrap admin name is taken by a non-admin account", "username", username)
		}
		return nil
	}
	if !errors.Is(err, model.ErrUserNotFound) {
		return err
	}

	req := model.SignupRequest{Username: strings.TrimSpace(username), Email: strings.ToLower(strings.TrimSpace(email)), Password: plaintext}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	admin := model.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		Active:       true,
		Confirmed:    true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, admin); err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			return nil
		}
		return err
	}

	slog.Info("bootstrap admin created", "user_id", admin.ID, "username", admin.Username)
	s.publish(event.TypeUserRegistered, "", admin.ID, map[string]any{"username": admin.Username, "bootstrap": true})
	return nil
}

func (s *AuthService) handleReuse(ctx context.Context, userID string, tokenID string) error {
	slog.Warn("refresh token reuse detected", "user_id", userID, "jti", tokenID, "policy", string(s.opts.ReusePolicy))
	s.publish(event.TypeRefreshReused, "", userID, map[string]any{"jti": tokenID, "policy": string(s.opts.ReusePolicy)})

	if s.opts.ReusePolicy == ReuseRevoke {
		if err := s.sessions.RevokeAll(ctx, userID); err != nil {
			return err
		}
		s.publish(event.TypeSessionRevoked, "", userID, map[string]any{"reason": "reuse"})
	}
	return model.ErrSessionRevoked
}

func (s *AuthService) replacePassword(ctx context.Context, actorID string, userID string, plaintext string, reason string) error {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}

	s.publish(event.TypePasswordChanged, actorID, userID, map[string]any{"reason": reason})
	return nil
}

func (s *AuthService) rehash(ctx context.Context, user *model.User, plaintext string) {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		slog.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		slog.Warn("password rehash not stored", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	slog.Info("password rehashed", "user_id", user.ID)
}

func (s *AuthService) issuePair(user model.User, fingerprint string) (model.TokenPair, error) {
	access, err := s.tokens.IssueAccess(user.ID, user.Username, user.Role)
	if err != nil {
		return model.TokenPair{}, err
	}

	refresh, err := s.tokens.IssueRefresh(user.ID, fingerprint)
	if err != nil {
		return model.TokenPair{}, err
	}

	return model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		User:         user.Public(),
	}, nil
}

func (s *AuthService) sendConfirmation(ctx context.Context, user model.User) error {
	verifyToken, err := s.tokens.IssueEmail(token.KindVerify, user.ID, user.Email, "")
	if err != nil {
		return err
	}

	return s.mail.Send(ctx, mailer.Message{
		To:      user.Email,
		Subject: "Confirm your email",
		Body: fmt.Sprintf("Hello %s,\n\nConfirm your email address by opening:\n%s/api/v1/auth/confirm/%s\n",
			user.Username, s.opts.PublicBaseURL, verifyToken),
	})
}

func (s *AuthService) ensureAvailable(ctx context.Context, username string, email string) error {
	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		return fmt.Errorf("%w: username is taken", model.ErrAlreadyExists)
	} else if !errors.Is(err, model.ErrUserNotFound) {
		return err
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return fmt.Errorf("%w: email is already registered", model.ErrAlreadyExists)
	} else if !errors.Is(err, model.ErrUserNotFound) {
		return err
	}

	return nil
}

func (s *AuthService) lookup(ctx context.Context, identifier string) (model.User, error) {
	if strings.Contains(identifier, "@") {
		return s.users.FindByEmail(ctx, identifier)
	}
	return s.users.FindByUsername(ctx, identifier)
}

func (s *AuthService) publish(typ event.Type, actorID string, subjectID string, attrs map[string]any) {
	s.bus.Publish(event.New(typ, actorID, subjectID, attrs))
}

func loginFailure(passwordOK bool, user model.User) string {
	switch {
	case !passwordOK:
		return "wrong_password"
	case user.Banned:
		return "banned"
	default:
		return "inactive"
	}
}

// credentialDigest identifies a password hash without exposing it.
func credentialDigest(passwordHash string) string {
	sum := sha256.Sum256([]byte(passwordHash))
	return hex.EncodeToString(sum[:8])
}
