package gate

import (
	"context"
	"sort"
	"sync"
)

// Subject is the caller being authorized.
type Subject struct {
	UserID uint
	Role   string
}

func (s Subject) Anonymous() bool { return s.UserID == 0 }

// Profile is the permission set of a role.
type Profile interface {
	Role() string
	HasPermission(Permission) bool
	Permissions() []Permission
}

// ProfileResolver finds the profile that applies to a subject.
// A nil profile with a nil error means the subject has none.
type ProfileResolver interface {
	Resolve(ctx context.Context, s Subject) (Profile, error)
}

// RoleProfile is an in-memory Profile.
type RoleProfile struct {
	role  string
	perms []Permission
}

func NewRoleProfile(role string, perms ...Permission) *RoleProfile {
	cp := append([]Permission(nil), perms...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	return &RoleProfile{role: role, perms: cp}
}

func (p *RoleProfile) Role() string { return p.role }

func (p *RoleProfile) Permissions() []Permission {
	return append([]Permission(nil), p.perms...)
}

func (p *RoleProfile) HasPermission(requested Permission) bool {
	for _, perm := range p.perms {
		if perm.Matches(requested) {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether the profile holds "*:*".
func IsSuperAdmin(p Profile) bool {
	if p == nil {
		return false
	}
	for _, perm := range p.Permissions() {
		if perm == PermissionSuperAdmin {
			return true
		}
	}
	return false
}

// RoleResolver maps the subject's session role to a fixed profile.
type RoleResolver struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewRoleResolver(profiles ...Profile) *RoleResolver {
	r := &RoleResolver{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.Role()] = p
	}
	return r
}

func (r *RoleResolver) Set(p Profile) {
	r.mu.Lock()
	r.profiles[p.Role()] = p
	r.mu.Unlock()
}

func (r *RoleResolver) Resolve(_ context.Context, s Subject) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profiles[s.Role], nil
}
