// Package auth resolves connection credentials to identities.
//
// Credentials are HS256 JWTs whose "sub" claim is an identity id. Staff
// tokens carry the identity's role. Visitor tokens additionally carry the
// visitor's temporary session token, which must match the one stored on the
// identity; rotating or clearing it revokes every outstanding visitor JWT.
//
// A credential is looked up in this order: the auth_token cookie, the
// visitor_token cookie, an Authorization bearer header, and finally the
// token query parameter used by browser WebSocket handshakes.
package auth
