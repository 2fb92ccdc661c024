package vault

import (
	"os"
	"strings"
)

// EnvVault resolves secrets from process environment variables. Keys
// are folded to upper case with non-alphanumerics replaced by
// underscores, so "db.password" resolves from DB_PASSWORD. A prefix
// narrows the vault to one variable namespace.
type EnvVault struct {
	id     string
	prefix string
}

// NewEnvVault creates an environment-backed vault. The prefix is
// prepended to every variable name, e.g. "HUTCH_" maps key "api.key"
// to HUTCH_API_KEY.
func NewEnvVault(id, prefix string) *EnvVault {
	return &EnvVault{id: id, prefix: prefix}
}

// ID returns the vault identifier.
func (v *EnvVault) ID() string {
	return v.id
}

// Lookup resolves a key from the environment. Unset and empty
// variables are both treated as missing.
func (v *EnvVault) Lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(v.prefix + envName(key))
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func envName(key string) string {
	var out strings.Builder
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out.WriteRune(r)
		} else {
			out.WriteByte('_')
		}
	}
	return out.String()
}
