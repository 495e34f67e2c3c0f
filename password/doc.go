// Package password hashes and verifies secrets: passwords, refresh and reset
// tokens, one-time codes and trusted-device tokens.
//
// # Algorithms
//
// [Bcrypt] is the default. It prehashes with SHA-256 so secrets longer than
// bcrypt's 72-byte input window (signed tokens in particular) are compared in
// full:
//
//	$bcrypt-sha256$$2a$<cost>$<salt+hash>
//
// [Argon2] produces PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// A [Hasher] hashes with one algorithm and verifies with all of them, and
// [Hasher.NeedsRehash] tells the caller when a stored hash should be
// replaced after a successful login.
//
// # What this package must NOT do
//
//   - Enforce password policy. Length rules belong to the Engine.
//   - Import any other credcore package.
//   - Log secrets or hashes.
package password
