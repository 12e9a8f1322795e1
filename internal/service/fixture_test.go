package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go-photoshare/internal/event"
	"go-photoshare/internal/guard"
	"go-photoshare/internal/mailer"
	"go-photoshare/internal/model"
	"go-photoshare/internal/password"
	"go-photoshare/internal/repository"
	"go-photoshare/internal/session"
	"go-photoshare/internal/token"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "correct horse battery"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *repository.MemoryUserRepository
	clock    *testClock
	hasher   *password.Hasher
	issuer   *token.Issuer
	sessions *session.Tracker
	auth     *AuthService
	users    *UserService
	guard    *guard.Guard
	bus      *event.InMemoryBus
	mail     *mailer.MockMailer
	events   <-chan event.Event

	mu   sync.Mutex
	sent []mailer.Message
}

func newFixture(t *testing.T, opts AuthOptions, policy guard.PolicyOptions) *fixture {
	t.Helper()

	f := &fixture{
		store: repository.NewMemoryUserRepository(),
		clock: &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		mail:  new(mailer.MockMailer),
		bus:   event.NewBus(),
	}
	f.mail.On("Send", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sent = append(f.sent, args.Get(1).(mailer.Message))
	})

	events, unsubscribe := f.bus.Subscribe()
	t.Cleanup(unsubscribe)
	f.events = events

	f.hasher = newTestHasher(t)
	f.issuer = newTestIssuer(t, f.clock)
	f.sessions = session.NewTracker(f.store)
	f.guard = guard.New(guard.NewPolicy(policy))

	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = "https://photos.example"
	}

	var err error
	f.auth, err = NewAuthService(f.store, f.hasher, f.issuer, f.sessions, f.mail, f.bus, opts)
	require.NoError(t, err)
	f.users = NewUserService(f.store, f.guard, f.sessions, f.bus, opts.ActivationEnabled)

	return f
}

func newTestHasher(t *testing.T) *password.Hasher {
	t.Helper()
	hasher, err := password.NewHasher(password.Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	return hasher
}

func newTestIssuer(t *testing.T, clock *testClock) *token.Issuer {
	t.Helper()
	issuer, err := token.NewIssuer(token.Config{
		Secret:     []byte(testSecret),
		Issuer:     "photoshare-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		EmailTTL:   24 * time.Hour,
		ClockSkew:  5 * time.Second,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return issuer
}

func (f *fixture) register(t *testing.T, username string) model.AuthUser {
	t.Helper()
	user, err := f.auth.Register(context.Background(), model.SignupRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) login(t *testing.T, username string) model.TokenPair {
	t.Helper()
	pair, err := f.auth.Login(context.Background(), model.LoginRequest{Username: username, Password: testPassword})
	require.NoError(t, err)
	return pair
}

// principal registers username with role and returns the Principal its access token yields.
func (f *fixture) principal(t *testing.T, username string, role model.Role) model.Principal {
	t.Helper()
	ctx := context.Background()

	user := f.register(t, username)
	if role != model.RoleUser {
		require.NoError(t, f.store.UpdateRole(ctx, user.ID, role))
	}

	p, err := f.auth.Authenticate(ctx, f.login(t, username).AccessToken)
	require.NoError(t, err)
	return p
}

func (f *fixture) lastMail(t *testing.T) mailer.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no mail sent")
	return f.sent[len(f.sent)-1]
}

func (f *fixture) mailCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// drainEvents returns the types of everything published so far.
func (f *fixture) drainEvents() []event.Type {
	var types []event.Type
	for {
		select {
		case e := <-f.events:
			types = append(types, e.Type)
		default:
			return types
		}
	}
}

// tokenAfter extracts the rest of the line following marker.
func tokenAfter(body string, marker string) string {
	_, rest, ok := strings.Cut(body, marker)
	if !ok {
		return ""
	}
	line, _, _ := strings.Cut(rest, "\n")
	return strings.TrimSpace(line)
}
