/*
Package security implements authentication and role-based access
control for the server kernel.

Users and roles are storage objects; the manager loads them on demand
and never caches credentials outside the storage tree. Authentication
supports password, challenge-response and token flows; authorization
evaluates glob-based role rules with optional caller constraints.

# Authentication

Three entry points on Manager:

  - AuthByPassword: SHA-256(id ":" realm ":" password) compared in
    constant time; legacy MD5 hashes are recognized and upgraded on
    successful login.
  - AuthByChallenge: digest handshake; the server issues a nonce (the
    decimal epoch-milli timestamp, carried verbatim in 401 challenges)
    and the client answers SHA-256(passwordHash ":" nonce). Nonces
    expire after 240 minutes.
  - AuthByToken: JWT (HS256, golang-jwt) or the legacy base64 token
    form; the signing key is the user's password hash, so a password
    change revokes all outstanding tokens. The user's authorizedTime
    is a second revocation lever: tokens expiring before it fail.

Failed attempts feed the FailureLimiter (x/time/rate), which blocks
an origin after repeated failures.

# Authorization

	role object /role/<id>:
	  auto:   "" | "auth" | "all"
	  access: [ {path, permission[], via?} ... ]

Rules are evaluated top to bottom across all applicable roles; the
first decisive rule wins and an explicit "none" permission denies
regardless of later grants. Paths use glob patterns (* one segment,
** any depth). A rule with a via pattern only grants when the caller
path, or any path on the call stack, matches, which lets internal
procedures stay unreachable from the outside while remaining callable
from trusted code. The legacy "internal" permission maps to read
with a require-via constraint.

	allowed := sec.HasAccessVia(user, "procedure/system/reset",
		security.PermRead, callerPath, stack)

Anonymous requests carry a nil user: only roles with auto "all"
apply.

# Realm

The realm names the authentication domain and is folded into every
password hash, so moving an account between servers with different
realms invalidates the stored hash by construction.
*/
package security
