// Package gate authorizes callers in two steps: the role profile must grant
// "resource:action", then a resource policy registered for that resource
// type gets the final say on the concrete object.
package gate

import "context"

// Policy decides on one concrete object. obj is nil for list and create.
type Policy interface {
	Can(ctx context.Context, s Subject, action Action, obj any) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, s Subject, action Action, obj any) bool

func (f PolicyFunc) Can(ctx context.Context, s Subject, action Action, obj any) bool {
	return f(ctx, s, action, obj)
}

type Gate struct {
	resolver ProfileResolver
	policies map[string]Policy
}

func New(resolver ProfileResolver) *Gate {
	return &Gate{resolver: resolver, policies: make(map[string]Policy)}
}

// Register sets the policy for a resource type, replacing any previous one.
func (g *Gate) Register(resource string, p Policy) {
	g.policies[resource] = p
}

// Authorize returns ErrUnauthenticated for anonymous subjects and
// ErrForbidden when the profile or the resource policy refuses.
func (g *Gate) Authorize(ctx context.Context, s Subject, action Action, resource string, obj any) error {
	if s.Anonymous() {
		return ErrUnauthenticated
	}
	profile, err := g.resolver.Resolve(ctx, s)
	if err != nil {
		return err
	}
	if profile == nil || !profile.HasPermission(NewPermission(resource, action)) {
		return ErrForbidden
	}
	if obj == nil {
		return nil
	}
	if p, ok := g.policies[resource]; ok && !p.Can(ctx, s, action, obj) {
		return ErrForbidden
	}
	return nil
}

func (g *Gate) Can(ctx context.Context, s Subject, action Action, resource string, obj any) bool {
	return g.Authorize(ctx, s, action, resource, obj) == nil
}

// CanProfile checks the role permission only.
func (g *Gate) CanProfile(ctx context.Context, s Subject, action Action, resource string) bool {
	return g.Authorize(ctx, s, action, resource, nil) == nil
}

// Profile exposes the resolved profile, nil for anonymous subjects.
func (g *Gate) Profile(ctx context.Context, s Subject) (Profile, error) {
	if s.Anonymous() {
		return nil, nil
	}
	return g.resolver.Resolve(ctx, s)
}
