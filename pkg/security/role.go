package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/storage"
)

// RoleType is the storage type identifier for roles.
const RoleType = "role"

// RoleInitializer is the registry symbol constructing role objects.
const RoleInitializer = "security/role"

// RolePath is the storage index holding roles.
var RolePath = data.NewPath("/role/")

// Permission names used in role access rules. A rule granting
// PermAll covers every permission; a rule with PermNone denies the
// matched paths outright. PermInternal is the legacy marker for
// procedure-only access and compiles to read + required via.
const (
	PermNone     = "none"
	PermInternal = "internal"
	PermRead     = "read"
	PermSearch   = "search"
	PermWrite    = "write"
	PermAll      = "all"
)

// Auto-assignment markers. Roles with auto "all" apply to every
// request including anonymous ones, "auth" to any authenticated user.
const (
	AutoAll  = "all"
	AutoAuth = "auth"
)

// Role is a stored role with compiled access rules. Rules match object
// paths (without the leading slash) against a glob pattern or an
// explicit regular expression and grant a set of permissions.
type Role struct {
	*storage.BaseObject
	rules []accessRule
}

type accessRule struct {
	pattern    *regexp.Regexp
	via        *regexp.Regexp
	requireVia bool
	deny       bool
	perms      map[string]bool
}

// matchesVia checks the rule's caller constraint. A rule without a via
// pattern matches any caller. With a via pattern, the explicit caller
// path is matched when given; otherwise every id on the call stack is
// tried.
func (a *accessRule) matchesVia(via string, stack []string) bool {
	if a.via == nil && !a.requireVia {
		return true
	}
	candidates := stack
	if via != "" {
		candidates = []string{via}
	}
	if len(candidates) == 0 {
		return false
	}
	if a.via == nil {
		return true
	}
	for _, c := range candidates {
		if a.via.MatchString(strings.TrimPrefix(c, "/")) {
			return true
		}
	}
	return false
}

// Decision is the outcome of matching one role against a request.
type Decision int

const (
	// DecisionNone means no rule in the role matched.
	DecisionNone Decision = iota
	// DecisionAllow means a rule granted the permission.
	DecisionAllow
	// DecisionDeny means a rule with permission none matched first.
	DecisionDeny
)

// NewRoleObject constructs a role from its stored dictionary,
// compiling its access rules. Malformed rules are logged and skipped
// rather than disabling the whole role.
func NewRoleObject(id, typ string, d *data.Dict) (storage.Object, error) {
	return &Role{BaseObject: storage.NewBaseObject(id, typ, d)}, nil
}

// Init compiles the access rules.
func (r *Role) Init() error {
	logger := log.WithComponent("security")
	for _, rule := range r.Dict().GetList("access").Dicts() {
		pattern, err := rulePattern(rule)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("role", r.ID()).
				Msg("Skipping malformed access rule")
			continue
		}
		if pattern == nil {
			continue
		}
		compiled := accessRule{pattern: pattern}
		if via := rule.GetString("via", ""); via != "" {
			viaPattern, err := globPattern(via)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("role", r.ID()).
					Msg("Skipping malformed access rule")
				continue
			}
			compiled.via = viaPattern
		}
		perms := make(map[string]bool)
		for _, p := range rule.GetStrings("permission") {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == PermInternal {
				// Legacy marker: readable, but only from another
				// procedure on the call stack.
				perms[PermRead] = true
				compiled.requireVia = true
				continue
			}
			if p == PermNone {
				compiled.deny = true
				continue
			}
			perms[p] = true
		}
		if compiled.deny {
			perms = nil
		} else if len(perms) == 0 {
			perms[PermRead] = true
		}
		compiled.perms = perms
		r.rules = append(r.rules, compiled)
	}
	return nil
}

// Name returns the display name.
func (r *Role) Name() string {
	return r.Dict().GetString("name", "")
}

// Description returns the free-form role description.
func (r *Role) Description() string {
	return r.Dict().GetString("description", "")
}

// Auto returns the auto-assignment marker, or an empty string for
// roles assigned explicitly per user.
func (r *Role) Auto() string {
	return strings.ToLower(r.Dict().GetString("auto", ""))
}

// AppliesTo reports whether this role is in effect for a user. A nil
// user is an anonymous request.
func (r *Role) AppliesTo(user *User) bool {
	switch r.Auto() {
	case AutoAll:
		return true
	case AutoAuth:
		return user != nil
	}
	return user != nil && user.HasRole(r.ID())
}

// Grants reports whether any access rule grants the permission for an
// object path, for requests without a caller constraint.
func (r *Role) Grants(path, permission string) bool {
	return r.Access(path, permission, "", nil) == DecisionAllow
}

// Access scans the role's rules top to bottom and returns the first
// decisive outcome for a request. A matching deny rule (permission
// none) decides immediately; a matching rule covering the permission
// allows; rules matching the path but not the permission are skipped.
// The via argument is the caller's storage path; when empty, via
// patterns match against the ids on the call stack instead.
func (r *Role) Access(path, permission, via string, stack []string) Decision {
	path = strings.TrimPrefix(path, "/")
	for i := range r.rules {
		rule := &r.rules[i]
		if !rule.pattern.MatchString(path) || !rule.matchesVia(via, stack) {
			continue
		}
		if rule.deny {
			return DecisionDeny
		}
		if rule.perms[permission] || rule.perms[PermAll] {
			return DecisionAllow
		}
	}
	return DecisionNone
}

// rulePattern compiles the matcher for one access rule. Rules declare
// either a regexp property or a glob path pattern where "*" matches
// within one path segment and "**" across segments.
func rulePattern(rule *data.Dict) (*regexp.Regexp, error) {
	if rx := rule.GetString("regexp", ""); rx != "" {
		pattern, err := regexp.Compile("^(?:" + rx + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid access regexp %q: %w", rx, err)
		}
		return pattern, nil
	}
	if glob := rule.GetString("path", ""); glob != "" {
		return globPattern(glob)
	}
	return nil, nil
}

func globPattern(glob string) (*regexp.Regexp, error) {
	glob = strings.TrimPrefix(glob, "/")
	var out strings.Builder
	out.WriteString("^")
	for i := 0; i < len(glob); i++ {
		switch {
		case strings.HasPrefix(glob[i:], "**"):
			out.WriteString(".*")
			i++
		case glob[i] == '*':
			out.WriteString("[^/]*")
		case glob[i] == '?':
			out.WriteString("[^/]")
		default:
			out.WriteString(regexp.QuoteMeta(string(glob[i])))
		}
	}
	out.WriteString("$")
	pattern, err := regexp.Compile(out.String())
	if err != nil {
		return nil, fmt.Errorf("invalid access path %q: %w", glob, err)
	}
	return pattern, nil
}
