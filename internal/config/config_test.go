package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default("wf-1")
	require.Equal(t, "wf-1", cfg.Workflow.ID)
	require.Equal(t, "verifier", cfg.Auth.DefaultRole)
	require.False(t, cfg.Auth.AllowLegacyActorHeader)
	require.False(t, cfg.Auth.EnableDevLogin)

	fields, ok := cfg.ExpectedFields("export_license")
	require.True(t, ok)
	require.Equal(t, []string{"applicant_name", "end_user", "product_classification", "destination_country"}, fields)

	_, ok = cfg.ExpectedFields("unknown")
	require.False(t, ok)
	require.Equal(t, []string{"admin", "reviewer", "submitter", "verifier"}, cfg.RoleNames())
}

func TestRoleAllows(t *testing.T) {
	cfg := Default("wf-1")
	require.True(t, cfg.RoleAllows("admin", "case.reset"))
	require.True(t, cfg.RoleAllows("reviewer", "case.decide"))
	require.False(t, cfg.RoleAllows("verifier", "case.decide"))
	require.False(t, cfg.RoleAllows("nobody", "case.read"))

	var nilCfg *Config
	require.False(t, nilCfg.RoleAllows("admin", "case.read"))
	_, ok := nilCfg.ExpectedFields("export_license")
	require.False(t, ok)
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	base := GenerateDefault("wf-1")
	cases := map[string]struct {
		yaml string
		want string
	}{
		"missing workflow": {
			yaml: strings.Replace(base, "id: wf-1", `id: ""`, 1),
			want: "workflow.id",
		},
		"unknown default role": {
			yaml: strings.Replace(base, "default_role: verifier", "default_role: auditor", 1),
			want: "unknown role auditor",
		},
		"duplicate expected field": {
			yaml: strings.Replace(base, "[counterparty_name, jurisdiction, screening_list]", "[jurisdiction, jurisdiction]", 1),
			want: "twice",
		},
		"negative webhook timeout": {
			yaml: base + "\nwebhooks:\n  - url: http://127.0.0.1:9/hook\n    timeout_seconds: -1\n",
			want: "timeout_seconds",
		},
		"webhook without url": {
			yaml: base + "\nwebhooks:\n  - events: [status_changed]\n",
			want: "empty url",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadAndLoadOrDefault(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cl config init")

	cfg, err := LoadOrDefault(dir)
	require.NoError(t, err)
	require.Equal(t, "caseline", cfg.Workflow.ID)

	require.NoError(t, os.WriteFile(Path(dir), []byte(GenerateDefault("eu-exports")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.Equal(t, "eu-exports", cfg.Workflow.ID)

	fromFile, err := FromFile(Path(dir))
	require.NoError(t, err)
	require.Equal(t, cfg.Workflow.ID, fromFile.Workflow.ID)
}

func TestWebhookConfigParses(t *testing.T) {
	data := GenerateDefault("wf-1") + `
webhooks:
  - url: https://hooks.example.test/caseline
    events: [status_changed, decision_made]
    secret: s3cret
    timeout_seconds: 3
    from_beginning: true
`
	cfg, err := FromYAML([]byte(data))
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 1)
	hook := cfg.Webhooks[0]
	require.Equal(t, []string{"status_changed", "decision_made"}, hook.Events)
	require.Equal(t, "s3cret", hook.Secret)
	require.Equal(t, 3, hook.TimeoutSeconds)
	require.True(t, hook.FromBeginning)
	require.Nil(t, hook.Enabled)
}
