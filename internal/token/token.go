// Package token issues and verifies the signed, self-describing tokens used by the
// authentication flows. Every token carries a kind claim so a token minted for one purpose
// is never accepted for another.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-photoshare/internal/model"
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindVerify  Kind = "verify"
	KindReset   Kind = "reset"
)

// Config is built once at startup and never mutated afterwards.
type Config struct {
	Secret     []byte
	Algorithm  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	EmailTTL   time.Duration
	ClockSkew  time.Duration
	// Now overrides the clock for issuing and verifying; nil means time.Now.
	Now func() time.Time
}

type Claims struct {
	jwt.RegisteredClaims
	Kind        Kind       `json:"typ"`
	Username    string     `json:"username,omitempty"`
	Role        model.Role `json:"role,omitempty"`
	Fingerprint string     `json:"fgp,omitempty"`
	Email       string     `json:"email,omitempty"`
	// Credential is a digest of the password hash a reset token was issued against.
	Credential string `json:"cred,omitempty"`
}

type Issuer struct {
	secret []byte
	method jwt.SigningMethod
	cfg    Config
	parser *jwt.Parser
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token signing secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.EmailTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if cfg.ClockSkew < 0 {
		return nil, errors.New("clock skew cannot be negative")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	var method jwt.SigningMethod
	switch alg {
	case jwt.SigningMethodHS256.Alg():
		method = jwt.SigningMethodHS256
	case jwt.SigningMethodHS512.Alg():
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Issuer{
		secret: secret,
		method: method,
		cfg:    cfg,
		parser: jwt.NewParser(opts...),
	}, nil
}

func (i *Issuer) AccessTTL() time.Duration {
	return i.cfg.AccessTTL
}

// IssueAccess mints a short-lived access token for the given identity.
func (i *Issuer) IssueAccess(userID string, username string, role model.Role) (string, error) {
	if !role.IsValid() {
		return "", fmt.Errorf("%w: cannot issue access token for role %s", model.ErrInvalidInput, role)
	}
	claims := i.baseClaims(userID, KindAccess, i.cfg.AccessTTL)
	claims.Username = username
	claims.Role = role
	return i.sign(claims)
}

// IssueRefresh mints a refresh token bound to fingerprint.
func (i *Issuer) IssueRefresh(userID string, fingerprint string) (string, error) {
	if fingerprint == "" {
		return "", fmt.Errorf("%w: refresh token requires a fingerprint", model.ErrInvalidInput)
	}
	claims := i.baseClaims(userID, KindRefresh, i.cfg.RefreshTTL)
	claims.Fingerprint = fingerprint
	return i.sign(claims)
}

// IssueEmail mints a confirmation or password-reset token delivered by email.
func (i *Issuer) IssueEmail(kind Kind, userID string, email string, credential string) (string, error) {
	if kind != KindVerify && kind != KindReset {
		return "", fmt.Errorf("%w: %q is not an email token kind", model.ErrInvalidInput, kind)
	}
	claims := i.baseClaims(userID, kind, i.cfg.EmailTTL)
	claims.Email = email
	claims.Credential = credential
	return i.sign(claims)
}

// Verify checks structure, signature, expiry and kind, in that order. Expired tokens with a
// valid signature fail with model.ErrTokenExpired; every other failure is
// model.ErrInvalidToken.
func (i *Issuer) Verify(tokenString string, expected Kind) (*Claims, error) {
	claims := &Claims{}
	_, err := i.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}

	if claims.Kind != expected {
		return nil, fmt.Errorf("%w: expected %s token, got %q", model.ErrInvalidToken, expected, claims.Kind)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", model.ErrInvalidToken)
	}
	switch expected {
	case KindAccess:
		if !claims.Role.IsValid() {
			return nil, fmt.Errorf("%w: missing role", model.ErrInvalidToken)
		}
	case KindRefresh:
		if claims.Fingerprint == "" {
			return nil, fmt.Errorf("%w: missing fingerprint", model.ErrInvalidToken)
		}
	}

	return claims, nil
}

func (i *Issuer) baseClaims(userID string, kind Kind, ttl time.Duration) *Claims {
	now := i.cfg.Now().UTC()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind: kind,
	}
}

func (i *Issuer) sign(claims *Claims) (string, error) {
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token subject is required", model.ErrInvalidInput)
	}
	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", claims.Kind, err)
	}
	return signed, nil
}
