package auth

import (
	"fmt"
	"strings"

	"caseline/internal/config"
	"caseline/internal/domain"
)

const (
	PermSubmissionCreate = "submission.create"
	PermSubmissionRead   = "submission.read"
	PermCaseCreate       = "case.create"
	PermCaseRead         = "case.read"
	PermCaseStatusUpdate = "case.status.update"
	PermCaseOverride     = "case.status.override"
	PermCaseAssign       = "case.assign"
	PermCaseNoteAdd      = "case.note.add"
	PermCaseDecide       = "case.decide"
	PermEvidenceAttach   = "case.evidence.attach"
	PermInfoRespond      = "case.info.respond"
	PermTraceLink        = "case.trace.link"
	PermCaseReset        = "case.reset"
	PermIntelRead        = "intel.read"
	PermIntelRecompute   = "intel.recompute"
	PermAPIKeyCreate     = "apikey.create"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Role       string
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required (role %s)", e.Permission, e.Role)
}

// Policy evaluates role permissions from the rbac section of the config.
type Policy struct {
	Config *config.Config
}

// Allows reports whether the actor's role grants perm.
func (p Policy) Allows(actor domain.Actor, perm string) bool {
	return p.Config.RoleAllows(strings.TrimSpace(actor.Role), perm)
}

// Require returns ForbiddenError when the actor's role lacks perm.
func (p Policy) Require(actor domain.Actor, perm string) error {
	if p.Allows(actor, perm) {
		return nil
	}
	return ForbiddenError{Role: actor.Role, Permission: perm}
}

// Permissions lists the permissions granted to role.
func (p Policy) Permissions(role string) []string {
	if p.Config == nil {
		return nil
	}
	r, ok := p.Config.RBAC.Roles[role]
	if !ok {
		return nil
	}
	return append([]string(nil), r.Permissions...)
}

// ResolveActor fills the role with the configured default when the caller
// did not supply one. It is meant for transport boundaries only.
func ResolveActor(cfg *config.Config, name, role string) domain.Actor {
	role = strings.TrimSpace(role)
	if role == "" && cfg != nil {
		role = cfg.Auth.DefaultRole
	}
	return domain.Actor{Name: strings.TrimSpace(name), Role: role}
}
