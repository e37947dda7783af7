package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/metrics"
)

// SessionChecker is the slice of C9 the Auth Gate needs: resolving a JWT to
// its owning user_uuid iff a live session row exists for it.
type SessionChecker interface {
	SelectUUIDByJWT(ctx context.Context, jwt string) (string, error)
}

// Gate is the Auth Gate (C4). Every failure subtype — NoAuthHeader,
// InvalidAuthHeader, JWTDecode, NotInSessionTable — collapses to a single
// opaque error for the session loop, per spec.md §4.4.
type Gate struct {
	issuer    *Issuer
	sessions  SessionChecker
	collector metrics.Collector
	log       *zap.Logger
}

// NewGate constructs an Auth Gate.
func NewGate(issuer *Issuer, sessions SessionChecker, collector metrics.Collector, log *zap.Logger) *Gate {
	return &Gate{issuer: issuer, sessions: sessions, collector: collector, log: log}
}

// Validate decodes token then checks the session table, returning the
// owning user_uuid on success. Implements session.Authenticator.
func (g *Gate) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		g.collector.AuthAttempt(false)
		return "", fmt.Errorf("auth: no token supplied")
	}

	claims, err := g.issuer.Decode(token)
	if err != nil {
		g.log.Debug("jwt decode failed", zap.Error(err))
		g.collector.AuthAttempt(false)
		return "", fmt.Errorf("auth: invalid token")
	}

	userUUID, err := g.sessions.SelectUUIDByJWT(ctx, token)
	if err != nil {
		g.log.Debug("token not in session table", zap.Error(err))
		g.collector.AuthAttempt(false)
		return "", fmt.Errorf("auth: invalid token")
	}

	if userUUID != claims.Subject {
		// Session table and claim disagree — treat as tampering, not a
		// recoverable mismatch.
		g.log.Warn("session subject mismatch", zap.String("claim_subject", claims.Subject), zap.String("session_user", userUUID))
		g.collector.AuthAttempt(false)
		return "", fmt.Errorf("auth: invalid token")
	}

	g.collector.AuthAttempt(true)
	return userUUID, nil
}
