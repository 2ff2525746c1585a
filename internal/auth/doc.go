// Package auth provides JWT authentication for the admin API.
//
// Tokens are signed with HS256 using the configured jwt_secret and carry
// the subject in the "sub" claim. The HTTP middleware extracts the bearer
// token from the Authorization header and rejects requests that fail
// verification.
package auth
