package core_test

import (
	"testing"

	"github.com/otterscale/gridnode/internal/core"
)

func TestJoinTokenIssuer_IssueAndVerify(t *testing.T) {
	issuer, err := core.NewJoinTokenIssuer([]byte("seed"))
	if err != nil {
		t.Fatalf("NewJoinTokenIssuer: %v", err)
	}

	token, err := issuer.Issue("prod", "node-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	grid, subject, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if grid != "prod" || subject != "node-1" {
		t.Fatalf("Verify() = (%q, %q), want (prod, node-1)", grid, subject)
	}
}

func TestJoinTokenIssuer_RejectsWrongKey(t *testing.T) {
	a, _ := core.NewJoinTokenIssuer([]byte("seed-a"))
	b, _ := core.NewJoinTokenIssuer([]byte("seed-b"))

	token, err := a.Issue("prod", "node-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, _, err := b.Verify(token); err == nil {
		t.Fatal("Verify with the wrong key: want error, got nil")
	}
}

func TestJoinTokenIssuer_RejectsMalformedToken(t *testing.T) {
	issuer, _ := core.NewJoinTokenIssuer([]byte("seed"))
	if _, _, err := issuer.Verify("not-a-token"); err == nil {
		t.Fatal("Verify(malformed): want error, got nil")
	}
}

func TestNewJoinTokenIssuer_RejectsEmptyKey(t *testing.T) {
	if _, err := core.NewJoinTokenIssuer(nil); err == nil {
		t.Fatal("NewJoinTokenIssuer(nil): want error, got nil")
	}
}
