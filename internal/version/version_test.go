package version

import "testing"

func TestString(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "1.2.3"
	if got, want := String(), "fovguard 1.2.3 (git unknown, built unknown)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
