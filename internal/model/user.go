package model

import "time"

// User is the persisted account record. PasswordHash and RefreshFingerprint never leave
// the repository and service layers; use AuthUser for anything serialized to clients.
type User struct {
	ID                 string    `json:"id"`
	Username           string    `json:"username"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"password_hash"`
	Role               Role      `json:"role"`
	Active             bool      `json:"active"`
	Confirmed          bool      `json:"confirmed"`
	Banned             bool      `json:"banned"`
	RefreshFingerprint *string   `json:"refresh_fingerprint,omitempty"`
	Avatar             string    `json:"avatar,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (u User) Public() AuthUser {
	return AuthUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Active:    u.Active,
		Confirmed: u.Confirmed,
		Banned:    u.Banned,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
	}
}

type AuthUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	Confirmed bool      `json:"confirmed"`
	Banned    bool      `json:"banned"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AuthUserList struct {
	Users []AuthUser `json:"users"`
}

// Principal is the verified identity behind a request.
type Principal struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Active   bool   `json:"active"`
}

type TokenPair struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	User         AuthUser `json:"user"`
}
