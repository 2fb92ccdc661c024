package storage

import (
	"testing"
	"time"

	"github.com/hutchhq/hutch/pkg/data"
)

func TestBaseObjectDefaults(t *testing.T) {
	obj := NewBaseObject("admin", "user", nil)
	if obj.ID() != "admin" {
		t.Errorf("expected id admin, got %s", obj.ID())
	}
	if obj.Type() != "user" {
		t.Errorf("expected type user, got %s", obj.Type())
	}
	if obj.Dict() == nil {
		t.Error("expected non-nil dict for nil input")
	}
	if err := obj.Init(); err != nil {
		t.Errorf("unexpected init error: %v", err)
	}
}

func TestBaseObjectActivity(t *testing.T) {
	now := time.Now()
	obj := NewBaseObject("a", "test", data.NewDict())

	if obj.IsActive(now) {
		t.Error("expected object inactive before first activation")
	}

	obj.Activate(now)
	if !obj.IsActive(now) {
		t.Error("expected object active right after activation")
	}
	if !obj.IsActive(now.Add(ObjectActiveWindow - time.Second)) {
		t.Error("expected object active within the window")
	}
	if obj.IsActive(now.Add(ObjectActiveWindow + time.Second)) {
		t.Error("expected object inactive after the window")
	}

	obj.SetActiveWindow(time.Hour)
	if !obj.IsActive(now.Add(30 * time.Minute)) {
		t.Error("expected object active within the extended window")
	}
}

func TestBaseObjectModified(t *testing.T) {
	obj := NewBaseObject("a", "test", data.NewDict())
	if obj.IsModified() {
		t.Error("expected new object unmodified")
	}
	obj.MarkModified()
	if !obj.IsModified() {
		t.Error("expected object modified after mark")
	}
	obj.ClearModified()
	if obj.IsModified() {
		t.Error("expected object unmodified after clear")
	}
}
