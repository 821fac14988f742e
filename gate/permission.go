package gate

import (
	"fmt"
	"strings"
)

// Permission is a "resource:action" pair. Either half may be "*".
type Permission string

const (
	Wildcard             = "*"
	PermissionSuperAdmin = Permission("*:*")
)

func NewPermission(resource string, action Action) Permission {
	return Permission(resource + ":" + string(action))
}

// ParsePermission validates the textual form used in seed files.
func ParsePermission(s string) (Permission, error) {
	res, act, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || res == "" || act == "" || strings.Contains(act, ":") {
		return "", fmt.Errorf("gate: malformed permission %q", s)
	}
	return Permission(res + ":" + act), nil
}

func (p Permission) split() (string, string) {
	res, act, _ := strings.Cut(string(p), ":")
	return res, act
}

func (p Permission) Resource() string {
	r, _ := p.split()
	return r
}

func (p Permission) Action() Action {
	_, a := p.split()
	return Action(a)
}

// Matches reports whether p grants requested. "*:*" grants everything,
// "deal:*" every deal action and "*:view" viewing any resource.
func (p Permission) Matches(requested Permission) bool {
	if p == PermissionSuperAdmin || p == requested {
		return true
	}
	res, act := p.split()
	reqRes, reqAct := requested.split()
	return (res == Wildcard || res == reqRes) && (act == Wildcard || act == reqAct)
}
