package mimemsg

import (
	"strings"
	"testing"
)

func TestBareAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"john@example.com", "john@example.com"},
		{"John Doe <john@example.com>", "john@example.com"},
		{"  john@example.com  ", "john@example.com"},
		{"not an address", "not an address"},
	}
	for _, c := range cases {
		if got := BareAddress(c.in); got != c.want {
			t.Errorf("BareAddress(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBuild(t *testing.T) {
	raw, err := Build("from@example.com", "Jane <to@example.com>", "Hello", "plain body text")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	msg := string(raw)
	for _, want := range []string{
		"From: <from@example.com>",
		"To: <to@example.com>",
		"Subject: Hello",
		"plain body text",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}
