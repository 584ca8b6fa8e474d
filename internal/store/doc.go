// Package store provides persistent storage for the messaging fabric using SQLite.
//
// # Architecture
//
// The Directory interface is the only persistence surface the rest of the
// gateway sees. SQLiteStore implements it against a single database file;
// MockStore implements it in memory for tests.
//
// # Data Models
//
//   - Conversation: direct (exactly two participants, unique per pair) or group
//   - Message: addressed to exactly one of a conversation or a direct receiver
//   - BotProfile: chatbot persona with an encrypted provider key
//
// Contacts are stored as a symmetric relation and gate who may be placed in
// a conversation together.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width RFC 3339 strings with nanoseconds so
// ORDER BY created_at is chronological.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateConversation: a direct conversation for the pair already exists
//   - ErrInvalidMessage: message targets both or neither of conversation and receiver
package store
