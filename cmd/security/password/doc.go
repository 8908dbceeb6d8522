// Package password hashes and verifies user secrets with Argon2id.
//
// Hashes use the PHC string form
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt>$<key>
//
// Encoded hashes are untrusted input during Verify: parameters outside
// twice the configured cost are rejected before any key derivation.
package password
