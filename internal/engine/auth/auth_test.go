package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/domain"
)

func TestPolicyRequire(t *testing.T) {
	p := Policy{Config: config.Default("wf-1")}

	require.NoError(t, p.Require(domain.Actor{Name: "rita", Role: "reviewer"}, PermCaseDecide))
	require.NoError(t, p.Require(domain.Actor{Name: "ada", Role: "admin"}, PermCaseReset))

	err := p.Require(domain.Actor{Name: "vic", Role: "verifier"}, PermCaseDecide)
	var fe ForbiddenError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, PermCaseDecide, fe.Permission)
	require.Equal(t, "verifier", fe.Role)

	require.Error(t, p.Require(domain.Actor{Name: "x"}, PermCaseRead))
}

func TestResolveActorAppliesDefaultRole(t *testing.T) {
	cfg := config.Default("wf-1")
	require.Equal(t, domain.Actor{Name: "val", Role: "verifier"}, ResolveActor(cfg, " val ", ""))
	require.Equal(t, domain.Actor{Name: "rita", Role: "reviewer"}, ResolveActor(cfg, "rita", "reviewer"))
	require.Equal(t, domain.Actor{Name: "sam"}, ResolveActor(nil, "sam", ""))
}

func TestPermissionsCopiesRoleList(t *testing.T) {
	p := Policy{Config: config.Default("wf-1")}
	perms := p.Permissions("verifier")
	require.Contains(t, perms, PermCaseRead)
	perms[0] = "mutated"
	require.NotEqual(t, "mutated", p.Permissions("verifier")[0])
	require.Nil(t, p.Permissions("nobody"))
}
