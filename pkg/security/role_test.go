package security

import (
	"testing"

	"github.com/hutchhq/hutch/pkg/data"
)

func newTestRole(t *testing.T, id string, auto string, rules ...*data.Dict) *Role {
	t.Helper()
	d := data.NewDict()
	d.Set("id", id)
	d.Set("type", RoleType)
	if auto != "" {
		d.Set("auto", auto)
	}
	access := data.NewList()
	for _, rule := range rules {
		access.Add(rule)
	}
	d.Set("access", access)
	obj, err := NewRoleObject(id, RoleType, d)
	if err != nil {
		t.Fatal(err)
	}
	role := obj.(*Role)
	if err := role.Init(); err != nil {
		t.Fatal(err)
	}
	return role
}

func accessRuleDict(path string, perms ...string) *data.Dict {
	d := data.NewDict()
	d.Set("path", path)
	if len(perms) > 0 {
		d.Set("permission", data.NewListOf(toAny(perms)...))
	}
	return d
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func TestRoleGlobMatching(t *testing.T) {
	role := newTestRole(t, "ops", "",
		accessRuleDict("proc/system/*", "read"),
		accessRuleDict("storage/**", "read", "write"),
		accessRuleDict("exact/path", "all"),
	)

	tests := []struct {
		path string
		perm string
		want bool
	}{
		{"proc/system/status", "read", true},
		{"/proc/system/status", "read", true},
		{"proc/system/status", "write", false},
		{"proc/system/sub/deep", "read", false},
		{"proc/other", "read", false},
		{"storage/plugin/local/user/a", "write", true},
		{"storage", "read", false},
		{"exact/path", "write", true},
		{"exact/path", "internal", true},
		{"exact/pathx", "read", false},
	}
	for _, tt := range tests {
		if got := role.Grants(tt.path, tt.perm); got != tt.want {
			t.Errorf("Grants(%q, %q) = %v, want %v", tt.path, tt.perm, got, tt.want)
		}
	}
}

func TestRoleRegexpRule(t *testing.T) {
	rule := data.NewDict()
	rule.Set("regexp", "proc/(system|plugin)/.+")
	rule.Set("permission", data.NewListOf("read"))
	role := newTestRole(t, "rx", "", rule)

	if !role.Grants("proc/system/status", "read") {
		t.Error("expected regexp rule to match")
	}
	if role.Grants("proc/session/x", "read") {
		t.Error("expected non-matching path to fail")
	}
	if role.Grants("xproc/system/status", "read") {
		t.Error("expected regexp to be anchored")
	}
}

func TestRoleSkipsMalformedRules(t *testing.T) {
	bad := data.NewDict()
	bad.Set("regexp", "([unclosed")
	role := newTestRole(t, "broken", "", bad, accessRuleDict("ok/**", "read"))

	if role.Grants("anything", "read") {
		t.Error("expected malformed rule to be skipped")
	}
	if !role.Grants("ok/path", "read") {
		t.Error("expected valid rule to survive a malformed sibling")
	}
}

func TestRoleDefaultPermission(t *testing.T) {
	role := newTestRole(t, "readers", "", accessRuleDict("docs/**"))
	if !role.Grants("docs/a", "read") {
		t.Error("expected rules without permissions to grant read")
	}
	if role.Grants("docs/a", "write") {
		t.Error("expected rules without permissions to deny write")
	}
}

func TestRoleAppliesTo(t *testing.T) {
	user := NewUser("bob", "Bob", "Hutch")
	user.Dict().Set("role", data.NewListOf("ops"))

	everyone := newTestRole(t, "everyone", AutoAll)
	authed := newTestRole(t, "authed", AutoAuth)
	ops := newTestRole(t, "ops", "")
	other := newTestRole(t, "other", "")

	if !everyone.AppliesTo(nil) || !everyone.AppliesTo(user) {
		t.Error("expected auto all role to apply to everyone")
	}
	if authed.AppliesTo(nil) {
		t.Error("expected auto auth role to skip anonymous")
	}
	if !authed.AppliesTo(user) {
		t.Error("expected auto auth role to apply to users")
	}
	if !ops.AppliesTo(user) {
		t.Error("expected assigned role to apply")
	}
	if other.AppliesTo(user) {
		t.Error("expected unassigned role to not apply")
	}
}

func TestRoleDenyRule(t *testing.T) {
	role := newTestRole(t, "deny", "",
		accessRuleDict("secret/**", "none"),
		accessRuleDict("**", "all"))

	if role.Access("secret/key", "read", "", nil) != DecisionDeny {
		t.Error("expected deny rule to win over later grant")
	}
	if role.Access("public/doc", "write", "", nil) != DecisionAllow {
		t.Error("expected catch-all rule to grant write")
	}
	if role.Grants("secret/key", "read") {
		t.Error("expected Grants to honor deny rules")
	}
}

func TestRoleViaRule(t *testing.T) {
	rule := accessRuleDict("connection/db", "read")
	rule.Set("via", "procedure/report/**")
	role := newTestRole(t, "via", "", rule)

	if role.Access("connection/db", "read", "procedure/report/daily", nil) != DecisionAllow {
		t.Error("expected matching via path to allow")
	}
	if role.Access("connection/db", "read", "procedure/other", nil) != DecisionNone {
		t.Error("expected mismatched via path to abstain")
	}
	if role.Access("connection/db", "read", "", nil) != DecisionNone {
		t.Error("expected direct access to abstain when via is required")
	}

	// Without an explicit caller path, any id on the call stack may
	// satisfy the via pattern.
	stack := []string{"procedure/other", "procedure/report/daily"}
	if role.Access("connection/db", "read", "", stack) != DecisionAllow {
		t.Error("expected call stack entry to satisfy via pattern")
	}
}

func TestRoleInternalPermission(t *testing.T) {
	role := newTestRole(t, "internal", "",
		accessRuleDict("procedure/sys/**", "internal"))

	if role.Access("procedure/sys/flush", "read", "", nil) != DecisionNone {
		t.Error("expected internal rule to reject direct access")
	}
	stack := []string{"procedure/admin/maint"}
	if role.Access("procedure/sys/flush", "read", "", stack) != DecisionAllow {
		t.Error("expected internal rule to allow procedure callers")
	}
	if role.Access("procedure/sys/flush", "write", "", stack) != DecisionNone {
		t.Error("expected internal rule to grant read only")
	}
}
