package security

import "testing"

func TestFailureLimiter(t *testing.T) {
	lim := NewFailureLimiter(1, 3)

	if lim.Blocked("10.0.0.1") {
		t.Error("expected unknown source to be unblocked")
	}

	lim.Fail("10.0.0.1")
	lim.Fail("10.0.0.1")
	if lim.Blocked("10.0.0.1") {
		t.Error("expected source below burst to stay unblocked")
	}

	lim.Fail("10.0.0.1")
	if !lim.Blocked("10.0.0.1") {
		t.Error("expected source to block after exhausting burst")
	}

	// other sources are tracked independently
	if lim.Blocked("10.0.0.2") {
		t.Error("expected independent budgets per source")
	}

	lim.Reset("10.0.0.1")
	if lim.Blocked("10.0.0.1") {
		t.Error("expected reset to clear the block")
	}
}

func TestFailureLimiterDefaults(t *testing.T) {
	lim := NewFailureLimiter(0, 0)
	for i := 0; i < 9; i++ {
		lim.Fail("src")
	}
	if lim.Blocked("src") {
		t.Error("expected default burst of 10 to allow 9 failures")
	}
	lim.Fail("src")
	if !lim.Blocked("src") {
		t.Error("expected block after default burst")
	}
}
