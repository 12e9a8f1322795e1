package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-photoshare/internal/event"
	"go-photoshare/internal/guard"
	"go-photoshare/internal/mailer"
	"go-photoshare/internal/model"
	"go-photoshare/internal/repository"
	"go-photoshare/internal/session"
)

func TestAuthService_RegisterLoginAuthenticate(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	ctx := context.Background()

	user := f.register(t, "alice")
	assert.Equal(t, model.RoleUser, user.Role)
	assert.True(t, user.Active)
	assert.Equal(t, "alice@example.com", user.Email)

	pair := f.login(t, "alice")
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, user.ID, pair.User.ID)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	p, err := f.auth.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, p.UserID)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, model.RoleUser, p.Role)
	assert.True(t, p.Active)

	stored, err := f.store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshFingerprint)
	assert.NotContains(t, pair.RefreshToken, *stored.RefreshFingerprint)

	assert.Equal(t, []event.Type{event.TypeUserRegistered, event.TypeSessionStarted}, f.drainEvents())
}

func TestAuthService_LoginByEmail(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	f.register(t, "alice")

	_, err := f.auth.Login(context.Background(), model.LoginRequest{Username: "ALICE@example.com", Password: testPassword})
	require.NoError(t, err)
}

func TestAuthService_RegisterRejects(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	ctx := context.Background()
	f.register(t, "alice")

	_, err := f.auth.Register(ctx, model.SignupRequest{Username: "Alice", Email: "other@example.com", Password: testPassword})
	require.ErrorIs(t, err, model.ErrAlreadyExists)

	_, err = f.auth.Register(ctx, model.SignupRequest{Username: "alicia", Email: " ALICE@example.com ", Password: testPassword})
	require.ErrorIs(t, err, model.ErrAlreadyExists)

	_, err = f.auth.Register(ctx, model.SignupRequest{Username: "bob", Email: "bob@example.com", Password: "short"})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.auth.Register(ctx, model.SignupRequest{Username: "bob", Email: "nope", Password: testPassword})
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestAuthService_LoginFailuresLookAlike(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	ctx := context.Background()

	f.register(t, "alice")
	banned := f.register(t, "mallory")
	require.NoError(t, f.store.Ban(ctx, banned.ID))
	dormant := f.register(t, "dormant")
	require.NoError(t, f.store.SetActive(ctx, dormant.ID, false))

	tests := map[string]model.LoginRequest{
		"unknown user":   {Username: "nobody", Password: testPassword},
		"wrong password": {Username: "alice", Password: "wrong password"},
		"banned":         {Username: "mallory", Password: testPassword},
		"inactive":       {Username: "dormant", Password: testPassword},
		"empty password": {Username: "alice"},
	}

	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			pair, err := f.auth.Login(ctx, req)
			require.ErrorIs(t, err, model.ErrInvalidCredentials)
			assert.Empty(t, pair.AccessToken)
			assert.Equal(t, model.ErrInvalidCredentials.Error(), err.Error())
		})
	}
}

func TestAuthService_LoginCorruptHash(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	ctx := context.Background()

	require.NoError(t, f.store.Create(ctx, model.User{
		ID: "broken", Username: "broken", Email: "broken@example.com",
		PasswordHash: "$argon2id$v=19$m=oops", Role: model.RoleUser, Active: true,
	}))

	_, err := f.auth.Login(ctx, model.LoginRequest{Username: "broken", Password: testPassword})
	require.ErrorIs(t, err, model.ErrCredentialCorrupt)
	assert.NotErrorIs(t, err, model.ErrInvalidCredentials)
}

func TestAuthService_RefreshRotatesAndIsSingleUse(t *testing.T) {
	f := newFixture(t, AuthOptions{ReusePolicy: ReuseRevoke}, guard.PolicyOptions{})
	ctx := context.Background()
	f.register(t, "alice")

	first := f.login(t, "alice")

	second, err := f.auth.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.auth.Authenticate(ctx, second.AccessToken)
	require.NoError(t, err)

	_, err = f.auth.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, model.ErrSessionRevoked)

	// Replay ended every session under the revoke policy.
	_, err = f.auth.Refresh(ctx, second.RefreshToken)
	require.ErrorIs(t, err, model.ErrSessionRevoked)

	events := f.drainEvents()
	assert.Contains(t, events, event.TypeRefreshReused)
	assert.Contains(t, events, event.TypeSessionRevoked)
}

func TestAuthService_RefreshRejectPolicyKeepsCurrentSession(t *testing.T) {
	f := newFixture(t, AuthOptions{ReusePolicy: ReuseReject}, guard.PolicyOptions{})
	ctx := context.Background()
	f.register(t, "alice")

	rt1 := f.login(t, "alice").RefreshToken

	pair2, err := f.auth.Refresh(ctx, rt1)
	require.NoError(t, err)

	_, err = f.auth.Refresh(ctx, rt1)
	require.ErrorIs(t, err, model.ErrSessionRevoked)

	pair3, err := f.auth.Refresh(ctx, pair2.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, pair3.AccessToken)
}

func TestAuthService_ConcurrentRefreshHasOneWinner(t *testing.T) {
	for _, policy := range []ReusePolicy{ReuseRevoke, ReuseReject} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t, AuthOptions{ReusePolicy: policy}, guard.PolicyOptions{})
			ctx := context.Background()
			f.register(t, "alice")
			rt1 := f.login(t, "alice").RefreshToken

			const workers = 12
			var (
				wg      sync.WaitGroup
				start   = make(chan struct{})
				results = make([]error, workers)
			)
			for i := range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, results[i] = f.auth.Refresh(ctx, rt1)
				}()
			}
			close(start)
			wg.Wait()

			wins := 0
			for _, err := range results {
				if err == nil {
					wins++
					continue
				}
				assert.ErrorIs(t, err, model.ErrSessionRevoked)
			}
			assert.Equal(t, 1, wins)
		})
	}
}

func TestAuthService_LogoutRevokes(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	ctx := context.Background()
	user := f.register(t, "alice")

	pair := f.login(t, "alice")
	require.NoError(t, f.auth.Logout(ctx, user.ID))
	require.NoError(t, f.auth.Logout(ctx, user.ID))
	require.NoError(t, f.auth.Logout(ctx, "no-such-user"))

	_, err := f.auth.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrSessionRevoked)

	fp, err := f.store.GetFingerprint(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, fp)
}

func TestAuthService_TokenExpiry(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	ctx := context.Background()
	f.register(t, "alice")
	pair := f.login(t, "alice")

	f.clock.Advance(15*time.Minute + 3*time.Second)
	_, err := f.auth.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err, "within clock skew")

	f.clock.Advance(10 * time.Second)
	_, err = f.auth.Authenticate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, model.ErrTokenExpired)

	f.clock.Advance(7 * 24 * time.Hour)
	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrTokenExpired)
}

func TestAuthService_KindConfusion(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	ctx := context.Background()
	f.register(t, "alice")
	pair := f.login(t, "alice")

	_, err := f.auth.Authenticate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrInvalidToken)

	_, err = f.auth.Refresh(ctx, pair.AccessToken)
	require.ErrorIs(t, err, model.ErrInvalidToken)

	_, err = f.auth.Authenticate(ctx, "not.a.token")
	require.ErrorIs(t, err, model.ErrInvalidToken)

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	_, err = f.auth.Authenticate(ctx, tampered)
	require.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestAuthService_AuthenticateReflectsStoredState(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	ctx := context.Background()

	admin := f.register(t, "root")
	require.NoError(t, f.store.UpdateRole(ctx, admin.ID, model.RoleAdmin))
	pair := f.login(t, "root")

	require.NoError(t, f.store.UpdateRole(ctx, admin.ID, model.RoleUser))
	p, err := f.auth.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, p.Role)

	require.NoError(t, f.store.Ban(ctx, admin.ID))
	p, err = f.auth.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.False(t, p.Active)
}

func TestAuthService_NoTokensWhenStoreFails(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := &flakyStore{MemoryUserRepository: repository.NewMemoryUserRepository()}
	auth, err := NewAuthService(store, newTestHasher(t), newTestIssuer(t, clock), session.NewTracker(store), nil, nil, AuthOptions{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = auth.Register(ctx, model.SignupRequest{Username: "alice", Email: "alice@example.com", Password: testPassword})
	require.NoError(t, err)

	store.failFingerprint = true
	pair, err := auth.Login(ctx, model.LoginRequest{Username: "alice", Password: testPassword})
	require.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.Empty(t, pair.AccessToken)
	assert.Empty(t, pair.RefreshToken)
}

func TestAuthService_EmailActivation(t *testing.T) {
	f := newFixture(t, AuthOptions{ActivationEnabled: true}, guard.PolicyOptions{})
	ctx := context.Background()

	user := f.register(t, "alice")
	assert.False(t, user.Active)
	assert.False(t, user.Confirmed)

	_, err := f.auth.Login(ctx, model.LoginRequest{Username: "alice", Password: testPassword})
	require.ErrorIs(t, err, model.ErrInvalidCredentials)

	msg := f.lastMail(t)
	assert.Equal(t, "alice@example.com", msg.To)
	verifyToken := tokenAfter(msg.Body, "https://photos.example/api/v1/auth/confirm/")
	require.NotEmpty(t, verifyToken)

	// A verify token is not an access token and vice versa.
	_, err = f.auth.Authenticate(ctx, verifyToken)
	require.ErrorIs(t, err, model.ErrInvalidToken)

	confirmed, err := f.auth.ConfirmEmail(ctx, verifyToken)
	require.NoError(t, err)
	assert.True(t, confirmed.Active)
	assert.True(t, confirmed.Confirmed)

	again, err := f.auth.ConfirmEmail(ctx, verifyToken)
	require.NoError(t, err)
	assert.True(t, again.Confirmed)

	f.login(t, "alice")
}

func TestAuthService_RequestConfirmation(t *testing.T) {
	f := newFixture(t, AuthOptions{ActivationEnabled: true}, guard.PolicyOptions{})
	ctx := context.Background()
	f.register(t, "alice")
	require.Equal(t, 1, f.mailCount())

	require.NoError(t, f.auth.RequestConfirmation(ctx, model.EmailRequest{Email: "alice@example.com"}))
	assert.Equal(t, 2, f.mailCount())

	require.NoError(t, f.auth.RequestConfirmation(ctx, model.EmailRequest{Email: "ghost@example.com"}))
	assert.Equal(t, 2, f.mailCount())

	err := f.auth.RequestConfirmation(ctx, model.EmailRequest{Email: "not an email"})
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestAuthService_MailFailureDoesNotFailRegistration(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryUserRepository()
	mail := new(mailer.MockMailer)
	mail.On("Send", mock.Anything, mock.MatchedBy(func(m mailer.Message) bool {
		return m.To == "alice@example.com"
	})).Return(errors.New("smtp down")).Once()

	auth, err := NewAuthService(store, newTestHasher(t), newTestIssuer(t, clock), session.NewTracker(store), mail, nil, AuthOptions{ActivationEnabled: true})
	require.NoError(t, err)

	_, err = auth.Register(context.Background(), model.SignupRequest{Username: "alice", Email: "alice@example.com", Password: testPassword})
	require.NoError(t, err)
	mail.AssertExpectations(t)
}

func TestAuthService_PasswordReset(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	ctx := context.Background()
	f.register(t, "alice")
	pair := f.login(t, "alice")

	require.NoError(t, f.auth.ForgotPassword(ctx, model.EmailRequest{Email: "Alice@Example.com"}))
	resetToken := tokenAfter(f.lastMail(t).Body, "?token=")
	require.NotEmpty(t, resetToken)

	err := f.auth.ResetPassword(ctx, model.ResetPasswordRequest{Token: resetToken, NewPassword: "brand new secret"})
	require.NoError(t, err)

	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrSessionRevoked)

	_, err = f.auth.Login(ctx, model.LoginRequest{Username: "alice", Password: testPassword})
	require.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = f.auth.Login(ctx, model.LoginRequest{Username: "alice", Password: "brand new secret"})
	require.NoError(t, err)

	err = f.auth.ResetPassword(ctx, model.ResetPasswordRequest{Token: resetToken, NewPassword: "another secret"})
	require.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestAuthService_ForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})

	require.NoError(t, f.auth.ForgotPassword(context.Background(), model.EmailRequest{Email: "ghost@example.com"}))
	assert.Zero(t, f.mailCount())
}

func TestAuthService_ChangePassword(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	ctx := context.Background()
	user := f.register(t, "alice")
	pair := f.login(t, "alice")

	err := f.auth.ChangePassword(ctx, user.ID, model.ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "brand new secret"})
	require.ErrorIs(t, err, model.ErrInvalidCredentials)

	err = f.auth.ChangePassword(ctx, user.ID, model.ChangePasswordRequest{CurrentPassword: testPassword, NewPassword: "brand new secret"})
	require.NoError(t, err)

	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, model.ErrSessionRevoked)

	_, err = f.auth.Login(ctx, model.LoginRequest{Username: "alice", Password: "brand new secret"})
	require.NoError(t, err)
}

func TestAuthService_LegacyBcryptIsRehashed(t *testing.T) {
	f := newFixture(t, AuthOptions{}, guard.PolicyOptions{})
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, f.store.Create(ctx, model.User{
		ID: "legacy-1", Username: "legacy", Email: "legacy@example.com",
		PasswordHash: string(legacy), Role: model.RoleUser, Active: true,
	}))

	f.login(t, "legacy")

	stored, err := f.store.FindByID(ctx, "legacy-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$argon2id$"))
	assert.False(t, f.hasher.NeedsRehash(stored.PasswordHash))

	f.login(t, "legacy")
}

func TestAuthService_EnsureAdmin(t *testing.T) {
	f := newFixture(t, AuthOptions{ActivationEnabled: true}, guard.PolicyOptions{})
	ctx := context.Background()

	require.NoError(t, f.auth.EnsureAdmin(ctx, "root", "root@example.com", testPassword))
	require.NoError(t, f.auth.EnsureAdmin(ctx, "root", "root@example.com", testPassword))

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	pair, err := f.auth.Login(ctx, model.LoginRequest{Username: "root", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, pair.User.Role)

	err = f.auth.EnsureAdmin(ctx, "x", "bad", "short")
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestNewAuthService_RejectsUnknownPolicy(t *testing.T) {
	clock := &testClock{now: time.Now()}
	store := repository.NewMemoryUserRepository()
	_, err := NewAuthService(store, newTestHasher(t), newTestIssuer(t, clock), session.NewTracker(store), nil, nil, AuthOptions{ReusePolicy: "ignore"})
	require.Error(t, err)
}

// flakyStore fails fingerprint writes on demand.
type flakyStore struct {
	*repository.MemoryUserRepository
	failFingerprint bool
}

func (s *flakyStore) SetFingerprint(ctx context.Context, id string, digest *string) error {
	if s.failFingerprint {
		return fmt.Errorf("set fingerprint: %w: %w", model.ErrStoreUnavailable, errors.New("connection refused"))
	}
	return s.MemoryUserRepository.SetFingerprint(ctx, id, digest)
}
