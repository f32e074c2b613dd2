package instance

import "testing"

func TestIDPrefersExplicitValue(t *testing.T) {
	t.Setenv("BOOKSHOP_INSTANCE_ID", "api-7")
	t.Setenv("DYNO", "web.1")
	if got := ID(); got != "api-7" {
		t.Fatalf("expected api-7, got %s", got)
	}
}

func TestIDFallsBackToDyno(t *testing.T) {
	t.Setenv("BOOKSHOP_INSTANCE_ID", "")
	t.Setenv("DYNO", "web.1")
	if got := ID(); got != "web.1" {
		t.Fatalf("expected web.1, got %s", got)
	}
}

func TestIDNeverEmpty(t *testing.T) {
	t.Setenv("BOOKSHOP_INSTANCE_ID", "")
	t.Setenv("DYNO", "")
	if ID() == "" {
		t.Fatalf("expected a non-empty id")
	}
}
