// Package auth authenticates callers of the huddle gateway.
//
// # Tokens
//
// Clients present an HS256 JWT whose "sub" claim is their stable identity.
// The gateway does not issue tokens to end users; an upstream identity
// service does, sharing the configured jwt_secret. The huddle-gateway token
// command mints tokens for local testing.
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("alice", time.Hour)
//	identity, err := verifier.Verify(token)
//
// # HTTP
//
// HTTPAuthMiddleware reads the token from the Authorization header, or from
// the "token" query parameter for WebSocket upgrades, and stores the identity
// in the request context:
//
//	identity := auth.MustFromContext(r.Context()).Identity
package auth
