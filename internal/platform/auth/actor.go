package auth

import "context"

type Role string

const (
	RolePhysician     Role = "physician"
	RolePracticeAdmin Role = "practice_admin"
	RoleAdmin         Role = "admin"
	RoleSuperadmin    Role = "superadmin"
)

// rank orders roles so the strongest claimed role wins.
var rank = map[Role]int{
	RolePhysician:     1,
	RolePracticeAdmin: 2,
	RoleAdmin:         3,
	RoleSuperadmin:    4,
}

// Actor is the authenticated caller. Handlers pull it off the request once and
// pass it explicitly into service calls.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsSuperadmin() bool { return a.Role == RoleSuperadmin }

// IsAdmin is true for admin and superadmin.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin || a.Role == RoleSuperadmin }

// ParseRole maps a claim value to a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := rank[r]
	return r, ok
}

// strongestRole picks the highest-privilege known role from a claim list.
func strongestRole(roles []string) Role {
	var best Role
	for _, s := range roles {
		r, ok := ParseRole(s)
		if ok && rank[r] > rank[best] {
			best = r
		}
	}
	return best
}

const actorKey contextKey = "actor"

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	if !ok || a.ID == "" {
		return Actor{}, false
	}
	return a, true
}
