package vault

import (
	"testing"

	"github.com/hutchhq/hutch/pkg/data"
)

type staticVault struct {
	id     string
	values map[string]string
}

func (v *staticVault) ID() string { return v.id }

func (v *staticVault) Lookup(key string) (string, bool) {
	value, ok := v.values[key]
	return value, ok
}

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register(&staticVault{id: "main", values: map[string]string{
		"db.password": "hunter2",
		"api.key":     "k-123",
	}})
	r.Register(&staticVault{id: "backup", values: map[string]string{
		"db.password": "shadowed",
		"only.backup": "b-456",
	}})
	return r
}

func TestRegistryLookupOrder(t *testing.T) {
	r := testRegistry()

	if v, ok := r.Lookup("", "db.password"); !ok || v != "hunter2" {
		t.Errorf("expected first vault to win, got %q (%v)", v, ok)
	}
	if v, ok := r.Lookup("backup", "db.password"); !ok || v != "shadowed" {
		t.Errorf("expected qualified lookup, got %q (%v)", v, ok)
	}
	if v, ok := r.Lookup("", "only.backup"); !ok || v != "b-456" {
		t.Errorf("expected fallthrough to later vault, got %q (%v)", v, ok)
	}
	if _, ok := r.Lookup("missing", "db.password"); ok {
		t.Error("expected unknown vault to miss")
	}
	if _, ok := r.Lookup("", "nope"); ok {
		t.Error("expected unknown key to miss")
	}
}

func TestRegistryExpand(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no markers", "plain text", "plain text"},
		{"simple", "pw=${{db.password}}", "pw=hunter2"},
		{"qualified", "pw=${{backup!db.password}}", "pw=shadowed"},
		{"with default hit", "${{api.key:fallback}}", "k-123"},
		{"with default miss", "${{nope:fallback}}", "fallback"},
		{"empty default", "${{nope:}}", ""},
		{"unresolved stays literal", "x ${{nope}} y", "x ${{nope}} y"},
		{"multiple", "${{api.key}}/${{only.backup}}", "k-123/b-456"},
		{"unterminated", "x ${{broken", "x ${{broken"},
		{"whitespace key", "${{ db.password }}", "hunter2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Expand(tt.input); got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRegistryExpandDict(t *testing.T) {
	r := testRegistry()

	nested := data.NewDict()
	nested.Set("token", "${{api.key}}")
	d := data.NewDict()
	d.Set("url", "postgres://app@db/main")
	d.Set("password", "${{db.password}}")
	d.Set("extra", nested)
	d.Set("hosts", data.NewListOf("a-${{only.backup}}", int64(42)))
	d.Seal(true)

	out := r.ExpandDict(d)
	if out.GetString("password", "") != "hunter2" {
		t.Errorf("expected expanded password, got %q", out.GetString("password", ""))
	}
	if out.GetDict("extra").GetString("token", "") != "k-123" {
		t.Errorf("expected nested expansion, got %q", out.GetDict("extra").GetString("token", ""))
	}
	hosts := out.GetList("hosts")
	if hosts.Get(0) != "a-b-456" || hosts.Get(1) != int64(42) {
		t.Errorf("expected list expansion, got %v", hosts.Items())
	}
	// the sealed source dict is untouched
	if d.GetString("password", "") != "${{db.password}}" {
		t.Error("expected source dict to keep its reference")
	}
}

func TestRegistryReplaceAndUnregister(t *testing.T) {
	r := testRegistry()
	r.Register(&staticVault{id: "main", values: map[string]string{"db.password": "rotated"}})

	if v, _ := r.Lookup("", "db.password"); v != "rotated" {
		t.Errorf("expected replaced vault to keep search position, got %q", v)
	}
	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "main" || ids[1] != "backup" {
		t.Errorf("unexpected vault order: %v", ids)
	}

	r.Unregister("main")
	if v, _ := r.Lookup("", "db.password"); v != "shadowed" {
		t.Errorf("expected lookup to fall through after unregister, got %q", v)
	}
	if r.Vault("main") != nil {
		t.Error("expected unregistered vault to be gone")
	}
}

func TestEnvVault(t *testing.T) {
	t.Setenv("HUTCH_DB_PASSWORD", "env-secret")
	t.Setenv("HUTCH_EMPTY", "")

	v := NewEnvVault("env", "HUTCH_")
	if got, ok := v.Lookup("db.password"); !ok || got != "env-secret" {
		t.Errorf("expected env lookup hit, got %q (%v)", got, ok)
	}
	if _, ok := v.Lookup("empty"); ok {
		t.Error("expected empty variable to count as missing")
	}
	if _, ok := v.Lookup("not.set"); ok {
		t.Error("expected unset variable to miss")
	}
}

func TestEnvName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"db.password", "DB_PASSWORD"},
		{"api-key", "API_KEY"},
		{"Simple", "SIMPLE"},
		{"a/b c", "A_B_C"},
	}
	for _, tt := range tests {
		if got := envName(tt.in); got != tt.want {
			t.Errorf("envName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewFromDict(t *testing.T) {
	env := data.NewDict()
	env.Set("type", "vault/env")
	env.Set("prefix", "APP_")
	v, err := NewFromDict("e", env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := v.(*EnvVault); !ok {
		t.Errorf("expected EnvVault, got %T", v)
	}

	bad := data.NewDict()
	bad.Set("type", "vault/unknown")
	if _, err := NewFromDict("x", bad); err == nil {
		t.Error("expected error for unknown vault type")
	}
}
