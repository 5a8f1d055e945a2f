// Package gate decides which identities may perform which relay actions.
package gate

import (
	"errors"

	"github.com/infodancer/relayd/internal/identity"
)

// ErrNotAuthorized is returned when an identity may not perform an action.
var ErrNotAuthorized = errors.New("not authorized")

// Action names used in denial metrics and logs.
const (
	ActionBootstrap = "bootstrap"
	ActionMutate    = "mutate_registry"
	ActionUpload    = "upload"
	ActionDispatch  = "dispatch"
	ActionInspect   = "inspect"
)

// Membership reports whether an identity is approved.
type Membership interface {
	IsApproved(id identity.Identity) bool
}

// Gate answers authorization questions. It holds no state of its own.
type Gate struct {
	admin   identity.Identity
	members Membership
}

// New creates a Gate for the given administrator.
func New(admin identity.Identity, members Membership) *Gate {
	return &Gate{admin: admin, members: members}
}

// Admin returns the administrator identity.
func (g *Gate) Admin() identity.Identity {
	return g.admin
}

// IsAdmin reports whether id is the administrator.
func (g *Gate) IsAdmin(id identity.Identity) bool {
	return !g.admin.IsZero() && id == g.admin
}

// CanBootstrap reports whether id may run the start command. Anyone may;
// the reply reveals approval status and grants nothing.
func (g *Gate) CanBootstrap(id identity.Identity) bool {
	return true
}

// CanMutateRegistry reports whether id may approve or remove identities.
func (g *Gate) CanMutateRegistry(id identity.Identity) bool {
	return g.IsAdmin(id)
}

// CanInspect reports whether id may list the registry.
func (g *Gate) CanInspect(id identity.Identity) bool {
	return g.IsAdmin(id)
}

// CanUpload reports whether id may upload a recipient list.
// The admin must be approved like anyone else.
func (g *Gate) CanUpload(id identity.Identity) bool {
	return g.members.IsApproved(id)
}

// CanDispatch reports whether id may start a dispatch.
func (g *Gate) CanDispatch(id identity.Identity) bool {
	return g.members.IsApproved(id)
}

// Check returns ErrNotAuthorized unless id may perform action.
func (g *Gate) Check(action string, id identity.Identity) error {
	var ok bool
	switch action {
	case ActionBootstrap:
		ok = g.CanBootstrap(id)
	case ActionMutate:
		ok = g.CanMutateRegistry(id)
	case ActionInspect:
		ok = g.CanInspect(id)
	case ActionUpload:
		ok = g.CanUpload(id)
	case ActionDispatch:
		ok = g.CanDispatch(id)
	}
	if !ok {
		return ErrNotAuthorized
	}
	return nil
}
