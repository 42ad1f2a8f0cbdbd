// Package password hashes and verifies user passwords.
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verify also accepts bcrypt hashes ($2a$, $2b$, $2y$) so credentials imported
// from older systems keep working; NeedsUpgrade reports true for them and for
// argon2id hashes made with weaker parameters, and the engine rehashes on the
// next successful login.
//
// Password policy beyond minimum length is enforced by the engine.
package password
