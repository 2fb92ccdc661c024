package security

import (
	"strings"
	"time"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/storage"
)

// UserType is the storage type identifier for user accounts.
const UserType = "user"

// UserInitializer is the registry symbol constructing user objects.
const UserInitializer = "security/user"

// UserPath is the storage index holding user accounts.
var UserPath = data.NewPath("/user/")

// passwordKey holds the password hash under a hidden key, so it is
// persisted but never serialized for clients.
const passwordKey = ".password"

// User is a stored user account. The password is kept as a salted
// hash, never in plain text.
type User struct {
	*storage.BaseObject
}

// NewUserObject constructs a user account from its stored dictionary.
func NewUserObject(id, typ string, d *data.Dict) (storage.Object, error) {
	return &User{BaseObject: storage.NewBaseObject(id, typ, d)}, nil
}

// NewUser creates a fresh enabled user account dictionary.
func NewUser(id, name, realm string) *User {
	d := data.NewDict()
	d.Set("id", id)
	d.Set("type", UserType)
	d.Set("name", name)
	d.Set("enabled", true)
	d.Set("realm", realm)
	d.Set("role", data.NewList())
	obj, _ := NewUserObject(id, UserType, d)
	return obj.(*User)
}

// Name returns the display name.
func (u *User) Name() string {
	return u.Dict().GetString("name", "")
}

// Email returns the contact email address.
func (u *User) Email() string {
	return u.Dict().GetString("email", "")
}

// Description returns the free-form account description.
func (u *User) Description() string {
	return u.Dict().GetString("description", "")
}

// IsEnabled reports whether the account may authenticate.
func (u *User) IsEnabled() bool {
	return u.Dict().GetBool("enabled", true)
}

// Realm returns the authentication realm the password hash was
// computed with.
func (u *User) Realm() string {
	return u.Dict().GetString("realm", DefaultRealm)
}

// PasswordHash returns the stored password hash, or an empty string
// for accounts without local credentials.
func (u *User) PasswordHash() string {
	return u.Dict().GetString(passwordKey, "")
}

// AuthorizedTime returns the earliest token expiry the account still
// accepts. Tokens expiring before this instant are revoked.
func (u *User) AuthorizedTime() time.Time {
	return u.Dict().GetTime("authorizedTime", time.Time{})
}

// Authorize raises the account's authorized time, revoking every
// outstanding token that expires before t. The value never moves
// backwards.
func (u *User) Authorize(t time.Time) {
	if t.Before(u.AuthorizedTime()) {
		return
	}
	u.Dict().Set("authorizedTime", t)
	u.MarkModified()
}

// Roles returns the role ids assigned to this account.
func (u *User) Roles() []string {
	return u.Dict().GetStrings("role")
}

// HasRole reports whether the account holds a role id. Comparison is
// case-insensitive.
func (u *User) HasRole(id string) bool {
	for _, r := range u.Roles() {
		if strings.EqualFold(r, id) {
			return true
		}
	}
	return false
}

// SetPassword replaces the stored credential with the hash of a new
// plain-text password and flags the account for write-back.
func (u *User) SetPassword(password string) error {
	if err := u.Dict().Set(passwordKey, PasswordHash(u.ID(), u.Realm(), password)); err != nil {
		return err
	}
	u.MarkModified()
	return nil
}

// setPasswordHash stores an already-computed hash, used when upgrading
// legacy credentials in place.
func (u *User) setPasswordHash(hash string) error {
	if err := u.Dict().Set(passwordKey, hash); err != nil {
		return err
	}
	u.MarkModified()
	return nil
}

// VerifyPassword checks a plain-text password against the stored
// hash. Accounts with legacy MD5 hashes are upgraded to the current
// hash on success.
func (u *User) VerifyPassword(password string) bool {
	stored := u.PasswordHash()
	if stored == "" {
		return false
	}
	if equalHash(stored, PasswordHash(u.ID(), u.Realm(), password)) {
		return true
	}
	if equalHash(stored, LegacyPasswordHash(u.ID(), u.Realm(), password)) {
		u.setPasswordHash(PasswordHash(u.ID(), u.Realm(), password))
		return true
	}
	return false
}
