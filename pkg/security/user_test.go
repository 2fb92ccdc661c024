package security

import (
	"testing"

	"github.com/hutchhq/hutch/pkg/data"
)

func TestUserAccessors(t *testing.T) {
	u := NewUser("admin", "Administrator", "Hutch")
	if u.ID() != "admin" || u.Name() != "Administrator" {
		t.Errorf("unexpected identity: %s / %s", u.ID(), u.Name())
	}
	if !u.IsEnabled() {
		t.Error("expected new user enabled")
	}
	if u.Realm() != "Hutch" {
		t.Errorf("expected realm Hutch, got %s", u.Realm())
	}
	if u.PasswordHash() != "" {
		t.Error("expected no credential on a fresh account")
	}

	u.Dict().Set("role", data.NewListOf("admin", "ops"))
	if !u.HasRole("admin") || !u.HasRole("OPS") {
		t.Error("expected case-insensitive role membership")
	}
	if u.HasRole("other") {
		t.Error("expected missing role to be absent")
	}
}

func TestUserPassword(t *testing.T) {
	u := NewUser("admin", "Administrator", "Hutch")
	if err := u.SetPassword("s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.IsModified() {
		t.Error("expected password change to mark the account modified")
	}
	if !u.VerifyPassword("s3cret") {
		t.Error("expected correct password to verify")
	}
	if u.VerifyPassword("wrong") {
		t.Error("expected wrong password to fail")
	}
	if u.VerifyPassword("") {
		t.Error("expected empty password to fail")
	}
}

func TestUserLegacyPasswordUpgrade(t *testing.T) {
	d := data.NewDict()
	d.Set("id", "dave")
	d.Set("type", UserType)
	d.Set("realm", "Hutch")
	d.Set(passwordKey, LegacyPasswordHash("dave", "Hutch", "oldpass"))
	obj, err := NewUserObject("dave", UserType, d)
	if err != nil {
		t.Fatal(err)
	}
	u := obj.(*User)
	u.ClearModified()

	if !u.VerifyPassword("oldpass") {
		t.Fatal("expected legacy hash to verify")
	}
	if u.PasswordHash() != PasswordHash("dave", "Hutch", "oldpass") {
		t.Error("expected hash upgraded to current form")
	}
	if !u.IsModified() {
		t.Error("expected upgrade to mark the account for write-back")
	}
	if !u.VerifyPassword("oldpass") {
		t.Error("expected password still valid after upgrade")
	}
}

func TestUserWithoutCredential(t *testing.T) {
	d := data.NewDict()
	d.Set("id", "svc")
	obj, _ := NewUserObject("svc", UserType, d)
	u := obj.(*User)
	if u.VerifyPassword("") || u.VerifyPassword("anything") {
		t.Error("expected accounts without credentials to never verify")
	}
}
