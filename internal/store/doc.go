// Package store provides persistent storage for the triage gateway using SQLite.
//
// # Architecture
//
// Tx is the operation set shared by plain calls and transactional calls. The
// lifecycle manager and the triage engine are written against Tx so the same
// code runs atomically inside Store.InTx:
//
//	err := st.InTx(ctx, func(tx store.Tx) error {
//		conv, err := tx.GetConversation(ctx, id)
//		...
//		return tx.UpdateConversation(ctx, conv)
//	})
//
// Store adds listing, admin and maintenance queries on top of Tx.
//
// # Data Models
//
//   - Conversation: one episode per contact, with agent-facing Status and
//     bot-facing BotState kept as separate enums
//   - Message: append-only, tagged with Direction, Type and an intent Kind
//   - Sector: service queue with unique slug and numeric menu code
//   - User: staff member; only RoleAgent users can own conversations
//   - TransferLog: immutable record of a sector/agent handoff
//
// # SQLite Configuration
//
// The database runs in WAL mode. Transactions begin IMMEDIATE (_txlock=immediate)
// so concurrent writers serialize instead of failing on lock upgrade, and
// busy_timeout lets them wait. Timestamps are stored as fixed-width UTC text so
// range predicates compare lexicographically.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: unique slug, menu code or email already taken
//   - ErrInvalidState: bot_state and bot_clarification_context out of sync
//
// # Testing
//
// Tests open a real database in t.TempDir() via NewSQLiteStore.
package store
