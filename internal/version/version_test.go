package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	s := String()
	for _, want := range []string{Version, BuildTime, GitCommit} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in %q", want, s)
		}
	}
	if Info()["version"] != Version {
		t.Errorf("expected version %s, got %s", Version, Info()["version"])
	}
}
