// Package guard decides whether a principal may perform an action on a resource.
//
// The decision is a pure function of the principal's role and active flag, the action, and
// whether the principal owns the resource. Every route that mutates a resource asks the
// guard; none re-implement role checks.
package guard

import (
	"fmt"
	"strings"

	"go-photoshare/internal/model"
)

type Operation uint8

const (
	OpRead Operation = iota + 1
	OpCreate
	OpUpdate
	OpDelete
	OpBan
	OpChangeRole
	OpAudit
)

type Resource uint8

const (
	ResourcePhoto Resource = iota + 1
	ResourceComment
	ResourceRating
	ResourceTag
	ResourceUser
)

var (
	operations = []Operation{OpRead, OpCreate, OpUpdate, OpDelete, OpBan, OpChangeRole, OpAudit}
	resources  = []Resource{ResourcePhoto, ResourceComment, ResourceRating, ResourceTag, ResourceUser}
	content    = []Resource{ResourcePhoto, ResourceComment, ResourceRating, ResourceTag}
)

func (o Operation) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpBan:
		return "ban"
	case OpChangeRole:
		return "change_role"
	case OpAudit:
		return "audit"
	default:
		return fmt.Sprintf("operation(%d)", uint8(o))
	}
}

func (r Resource) String() string {
	switch r {
	case ResourcePhoto:
		return "photo"
	case ResourceComment:
		return "comment"
	case ResourceRating:
		return "rating"
	case ResourceTag:
		return "tag"
	case ResourceUser:
		return "user"
	default:
		return fmt.Sprintf("resource(%d)", uint8(r))
	}
}

func ParseOperation(raw string) (Operation, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for _, op := range operations {
		if op.String() == key {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown operation %q", model.ErrInvalidInput, raw)
}

func ParseResource(raw string) (Resource, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	for _, res := range resources {
		if res.String() == key {
			return res, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown resource %q", model.ErrInvalidInput, raw)
}

// Action is an operation on a kind of resource. For OpCreate the owner passed to Authorize
// is the owner of the parent (the photo a comment or rating is attached to).
type Action struct {
	Op       Operation
	Resource Resource
}

func (a Action) String() string {
	return a.Op.String() + ":" + a.Resource.String()
}

func (a Action) valid() bool {
	return a.Op >= OpRead && a.Op <= OpAudit && a.Resource >= ResourcePhoto && a.Resource <= ResourceUser
}

type actionSet map[Action]struct{}

func (s actionSet) add(op Operation, res ...Resource) {
	for _, r := range res {
		s[Action{Op: op, Resource: r}] = struct{}{}
	}
}

func (s actionSet) has(a Action) bool {
	_, ok := s[a]
	return ok
}

// rules is the pair of tables for one role.
type rules struct {
	own    actionSet
	others actionSet
}

// Policy is the role x ownership x action table. Build it with NewPolicy; it is read-only
// afterwards.
type Policy struct {
	user      rules
	moderator rules
	admin     rules
}

// PolicyOptions carry the product decisions that are configuration rather than code.
type PolicyOptions struct {
	// ModeratorCanEdit lets moderators update other users' content, not only remove it.
	ModeratorCanEdit bool
	// ModeratorCanBan lets moderators ban and unban accounts.
	ModeratorCanBan bool
}

func NewPolicy(opts PolicyOptions) Policy {
	ownContent := func() actionSet {
		s := actionSet{}
		s.add(OpRead, resources...)
		s.add(OpCreate, content...)
		s.add(OpUpdate, content...)
		s.add(OpDelete, content...)
		s.add(OpUpdate, ResourceUser)
		s.add(OpDelete, ResourceUser)
		s.add(OpAudit, ResourceUser)
		return s
	}

	userOthers := actionSet{}
	userOthers.add(OpRead, resources...)
	userOthers.add(OpCreate, ResourceComment, ResourceRating)

	modOthers := actionSet{}
	modOthers.add(OpRead, resources...)
	modOthers.add(OpCreate, ResourceComment, ResourceRating)
	modOthers.add(OpDelete, ResourceComment, ResourceRating, ResourceTag)
	if opts.ModeratorCanEdit {
		modOthers.add(OpUpdate, content...)
	}
	if opts.ModeratorCanBan {
		modOthers.add(OpBan, ResourceUser)
	}

	adminAll := actionSet{}
	for _, op := range operations {
		adminAll.add(op, resources...)
	}

	return Policy{
		user:      rules{own: ownContent(), others: userOthers},
		moderator: rules{own: ownContent(), others: modOthers},
		admin:     rules{own: adminAll, others: adminAll},
	}
}

type Guard struct {
	policy Policy
}

func New(policy Policy) *Guard {
	return &Guard{policy: policy}
}

// Authorize reports whether p may perform action on a resource owned by ownerID. Inactive
// principals are denied before their role is looked at.
func (g *Guard) Authorize(p model.Principal, action Action, ownerID string) bool {
	if !p.Active || p.UserID == "" || !action.valid() {
		return false
	}

	var r rules
	switch p.Role {
	case model.RoleUser:
		r = g.policy.user
	case model.RoleModerator:
		r = g.policy.moderator
	case model.RoleAdmin:
		r = g.policy.admin
	default:
		return false
	}

	if ownerID != "" && ownerID == p.UserID {
		return r.own.has(action)
	}
	return r.others.has(action)
}
