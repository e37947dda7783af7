package auth

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/metrics"
)

type fakeSessions struct {
	byJWT map[string]string
}

func (f *fakeSessions) SelectUUIDByJWT(_ context.Context, jwt string) (string, error) {
	if u, ok := f.byJWT[jwt]; ok {
		return u, nil
	}
	return "", errors.New("not found")
}

func TestIssueAndDecode(t *testing.T) {
	issuer, err := NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	token, err := issuer.Issue("user-1", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := issuer.Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "user" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestGateValidateSuccess(t *testing.T) {
	issuer, _ := NewIssuer("secret")
	token, _ := issuer.Issue("user-1", "user")

	gate := NewGate(issuer, &fakeSessions{byJWT: map[string]string{token: "user-1"}}, metrics.NoopCollector{}, zap.NewNop())

	uuid, err := gate.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if uuid != "user-1" {
		t.Fatalf("unexpected uuid: %q", uuid)
	}
}

func TestGateValidateRejectsUnknownSession(t *testing.T) {
	issuer, _ := NewIssuer("secret")
	token, _ := issuer.Issue("user-1", "user")

	gate := NewGate(issuer, &fakeSessions{byJWT: map[string]string{}}, metrics.NoopCollector{}, zap.NewNop())

	if _, err := gate.Validate(context.Background(), token); err == nil {
		t.Fatal("expected error for token absent from session table")
	}
}

func TestGateValidateRejectsBadSignature(t *testing.T) {
	issuerA, _ := NewIssuer("secret-a")
	issuerB, _ := NewIssuer("secret-b")
	token, _ := issuerA.Issue("user-1", "user")

	gate := NewGate(issuerB, &fakeSessions{byJWT: map[string]string{token: "user-1"}}, metrics.NoopCollector{}, zap.NewNop())

	if _, err := gate.Validate(context.Background(), token); err == nil {
		t.Fatal("expected error for signature mismatch")
	}
}

func TestGateValidateEmptyToken(t *testing.T) {
	issuer, _ := NewIssuer("secret")
	gate := NewGate(issuer, &fakeSessions{byJWT: map[string]string{}}, metrics.NoopCollector{}, zap.NewNop())

	if _, err := gate.Validate(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !ComparePassword(hash, "correct horse battery staple") {
		t.Fatal("expected matching password to compare equal")
	}
	if ComparePassword(hash, "wrong password") {
		t.Fatal("expected non-matching password to compare unequal")
	}
}
