package version

import "testing"

func TestString(t *testing.T) {
	want := Version + " (" + Commit + ") built " + BuildTime
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent("notifytap"); got != "notifytap/"+Version {
		t.Errorf("UserAgent() = %q, want notifytap/%s", got, Version)
	}
}
