// Package secret seals provider credentials for storage.
//
// An envelope is AES-256-GCM output laid out as nonce (16 bytes), tag
// (16 bytes), then ciphertext, hex encoded. Every call to Encrypt draws a
// fresh nonce, so sealing the same key twice yields different envelopes.
//
// Errors fall into two classes: ErrConfiguration when the key itself is
// absent or malformed, and ErrIntegrity for any envelope that cannot be
// opened (bad hex, truncation, tampering, wrong key). Decrypt never returns
// partial plaintext.
//
//	codec, err := secret.NewCodec(cfg.Crypto.EncryptionKey)
//	envelope, err := codec.Seal("sk-...")
//	key, err := codec.Open(envelope)
package secret
