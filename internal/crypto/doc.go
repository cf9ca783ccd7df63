// Package crypto exposes the primitives used by the engine.
//
// Contents
//
//   - X25519 key generation, clamping and agreement (GenerateX25519,
//     GenerateIdentity, Agree)
//   - HKDF-SHA256 expansion (DeriveKeys)
//   - The relay connection secret: HMAC-SHA256 authenticated AES-256-CBC
//     carrying the session enc/mac keys (SealConnSecret, OpenConnSecret)
//   - Restore challenge answers (ChallengeResponse, VerifyChallenge)
//   - Best-effort memory wiping for sensitive byte slices (Wipe)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Key types are the fixed-size arrays defined in internal/domain. Errors that
// come from authentication or key validation are domain.CryptoError values.
package crypto
