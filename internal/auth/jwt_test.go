package auth

import (
	"testing"
	"time"
)

func TestIssueParseRoundtrip(t *testing.T) {
	pair, err := Issue("u1", RoleStudent, "Student One", "fitpass", "key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := Parse(pair.AccessToken, "key", "fitpass")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "u1" || claims.Role != RoleStudent || claims.FullName != "Student One" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if !claims.IsStudent() || claims.IsTeacher() || claims.IsAdmin() {
		t.Error("role helpers disagree with role")
	}
}

func TestParseWrongKey(t *testing.T) {
	pair, err := Issue("u1", RoleTeacher, "T", "fitpass", "key-a", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "key-b", "fitpass"); err == nil {
		t.Fatal("expected parse to fail with wrong key")
	}
}

func TestParseIssuerMismatch(t *testing.T) {
	pair, err := Issue("u1", RoleAdmin, "A", "other-issuer", "key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "key", "fitpass"); err == nil {
		t.Fatal("expected issuer mismatch to fail")
	}
}

func TestParseExpired(t *testing.T) {
	pair, err := Issue("u1", RoleStudent, "S", "fitpass", "key", -time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "key", "fitpass"); err == nil {
		t.Fatal("expected expired token to fail")
	}
}
