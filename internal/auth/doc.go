// Package auth authenticates support agents.
//
// Agents register with a username and password (bcrypt, see HashPassword)
// and log in for an HS256 JWT. The token carries the agent id in "sub" and
// the username in "username":
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate(agent.ID, agent.Username, 24*time.Hour)
//	claims, err := verifier.Verify(token)
//
// Websocket upgrades pass the token as ?token= because browsers cannot set
// headers there; HTTP clients may use "Authorization: Bearer <token>".
// TokenFromRequest accepts both.
//
// Users are anonymous and never authenticate.
package auth
