package service

import (
	"context"
	"fmt"

	"go-photoshare/internal/event"
	"go-photoshare/internal/guard"
	"go-photoshare/internal/model"
	"go-photoshare/internal/session"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

var (
	actionReadUser   = guard.Action{Op: guard.OpRead, Resource: guard.ResourceUser}
	actionUpdateUser = guard.Action{Op: guard.OpUpdate, Resource: guard.ResourceUser}
	actionAuditUser  = guard.Action{Op: guard.OpAudit, Resource: guard.ResourceUser}
	actionBanUser    = guard.Action{Op: guard.OpBan, Resource: guard.ResourceUser}
	actionChangeRole = guard.Action{Op: guard.OpChangeRole, Resource: guard.ResourceUser}
)

// UserService manages accounts on behalf of another user. Every method asks the guard first.
type UserService struct {
	users             UserStore
	guard             *guard.Guard
	sessions          *session.Tracker
	bus               event.Bus
	activationEnabled bool
}

func NewUserService(users UserStore, g *guard.Guard, sessions *session.Tracker, bus event.Bus, activationEnabled bool) *UserService {
	if bus == nil {
		bus = event.Nop{}
	}
	return &UserService{
		users:             users,
		guard:             g,
		sessions:          sessions,
		bus:               bus,
		activationEnabled: activationEnabled,
	}
}

// AuthorizeUpdate reports whether actor may modify the account userID, e.g. its password.
func (s *UserService) AuthorizeUpdate(actor model.Principal, userID string) error {
	if !s.guard.Authorize(actor, actionUpdateUser, userID) {
		return model.ErrForbidden
	}
	return nil
}

// Get returns a user profile. The email is only included for the user themself and for
// principals allowed to audit accounts.
func (s *UserService) Get(ctx context.Context, actor model.Principal, userID string) (model.AuthUser, error) {
	if !s.guard.Authorize(actor, actionReadUser, userID) {
		return model.AuthUser{}, model.ErrForbidden
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.AuthUser{}, err
	}

	public := user.Public()
	if !s.guard.Authorize(actor, actionAuditUser, userID) {
		public.Email = ""
	}
	return public, nil
}

func (s *UserService) List(ctx context.Context, actor model.Principal, page int, limit int) ([]model.AuthUser, model.Meta, error) {
	if !s.guard.Authorize(actor, actionAuditUser, "") {
		return nil, model.Meta{}, model.ErrForbidden
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, model.Meta{}, err
	}

	users, err := s.users.List(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, model.Meta{}, err
	}

	items := make([]model.AuthUser, 0, len(users))
	for _, u := range users {
		items = append(items, u.Public())
	}

	return items, model.NewMeta(page, limit, total), nil
}

// ChangeRole sets the target's role. Demotions end the target's refresh sessions.
func (s *UserService) ChangeRole(ctx context.Context, actor model.Principal, userID string, rawRole string) (model.AuthUser, error) {
	role, err := model.ParseRole(rawRole)
	if err != nil {
		return model.AuthUser{}, err
	}

	if !s.guard.Authorize(actor, actionChangeRole, userID) {
		return model.AuthUser{}, model.ErrForbidden
	}
	if actor.UserID == userID {
		return model.AuthUser{}, fmt.Errorf("%w: cannot change your own role", model.ErrForbidden)
	}

	target, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.AuthUser{}, err
	}
	if target.Role == role {
		return target.Public(), nil
	}

	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		return model.AuthUser{}, err
	}
	if !role.IsAtLeast(target.Role) {
		if err := s.sessions.RevokeAll(ctx, userID); err != nil {
			return model.AuthUser{}, err
		}
	}

	s.bus.Publish(event.New(event.TypeRoleChanged, actor.UserID, userID, map[string]any{
		"from": target.Role.String(),
		"to":   role.String(),
	}))

	target.Role = role
	return target.Public(), nil
}

// Ban deactivates the target and ends its sessions.
func (s *UserService) Ban(ctx context.Context, actor model.Principal, userID string) (model.AuthUser, error) {
	target, err := s.banTarget(ctx, actor, userID)
	if err != nil {
		return model.AuthUser{}, err
	}
	if target.Banned {
		return target.Public(), nil
	}

	if err := s.users.Ban(ctx, userID); err != nil {
		return model.AuthUser{}, err
	}

	s.bus.Publish(event.New(event.TypeUserBanned, actor.UserID, userID, nil))

	target.Banned = true
	target.Active = false
	return target.Public(), nil
}

func (s *UserService) Unban(ctx context.Context, actor model.Principal, userID string) (model.AuthUser, error) {
	target, err := s.banTarget(ctx, actor, userID)
	if err != nil {
		return model.AuthUser{}, err
	}
	if !target.Banned {
		return target.Public(), nil
	}

	active := target.Confirmed || !s.activationEnabled
	if err := s.users.Unban(ctx, userID, active); err != nil {
		return model.AuthUser{}, err
	}

	s.bus.Publish(event.New(event.TypeUserUnbanned, actor.UserID, userID, nil))

	target.Banned = false
	target.Active = active
	return target.Public(), nil
}

// banTarget loads the target of a ban or unban once the actor is allowed to ban at all.
// Nobody bans themself, and only admins act on accounts of equal or higher rank.
func (s *UserService) banTarget(ctx context.Context, actor model.Principal, userID string) (model.User, error) {
	if !s.guard.Authorize(actor, actionBanUser, userID) {
		return model.User{}, model.ErrForbidden
	}
	if actor.UserID == userID {
		return model.User{}, fmt.Errorf("%w: cannot ban yourself", model.ErrForbidden)
	}

	target, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	if actor.Role != model.RoleAdmin && target.Role.IsAtLeast(actor.Role) {
		return model.User{}, fmt.Errorf("%w: target outranks or equals you", model.ErrForbidden)
	}

	return target, nil
}
