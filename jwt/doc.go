// Package jwt signs and verifies the purpose-scoped HS256 tokens used by
// credcore: access, refresh, email-verification and password-reset.
//
// Every purpose has its own secret, and the purpose is also written into the
// "typ" claim, so a token minted for one purpose fails verification under any
// other even if secrets were misconfigured to collide. Each token gets a
// random "jti", so two tokens minted in the same second for the same
// identity never compare equal.
//
// # What this package must NOT do
//
//   - Touch storage. Revocation and rotation live in the Engine.
//   - Import the root credcore package.
package jwt
