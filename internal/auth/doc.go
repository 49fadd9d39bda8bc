// Package auth authenticates users of the chat server.
//
// # Tokens
//
// Access tokens are HS256 JWTs signed with auth.jwt_secret. The "sub" claim is
// the user id and "username" the display name. JWTVerifier implements
// TokenVerifier and also issues tokens.
//
// # Credentials on connections
//
// CredentialFromRequest reads a token from the Authorization bearer header,
// falling back to the "token" query parameter for browser websocket clients.
// Missing and invalid credentials are reported to clients identically.
//
// # Accounts
//
// AccountService implements registration and login:
//
//	POST /auth/register {email, username, password}  -> 201 {access_token, user}
//	POST /auth/login    {email, password}            -> 200 {access_token, user}
//
// Requests are validated with go-playground/validator struct tags. Passwords
// are hashed with bcrypt; logins for unknown emails still run one bcrypt
// comparison.
package auth
