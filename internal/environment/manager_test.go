package environment

import "testing"

func TestSanitizeNameReplacesDisallowedRunes(t *testing.T) {
	got := sanitizeName("django__django-1001")
	want := "django__django-1001"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = sanitizeName("acme/widgets#42")
	want = "acme-widgets-42"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCleanupWithNilHandleIsNoop(t *testing.T) {
	m := &Manager{}
	if err := m.Cleanup(nil, true); err != nil {
		t.Fatalf("Cleanup(nil, true): %v", err)
	}
	if err := m.Cleanup(nil, false); err != nil {
		t.Fatalf("Cleanup(nil, false): %v", err)
	}
}
