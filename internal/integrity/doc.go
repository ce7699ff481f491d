// Package integrity holds the hashing and signing primitives of the activity
// chain: the canonical content encoding, the content hash and the HMAC keyring
// that signs each link.
//
// Append and verification both go through this package so the encoding is
// defined in one place and cannot drift between writer and verifier.
package integrity
