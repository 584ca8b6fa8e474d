// Package conversation provides the messaging workflows of the gateway.
//
// # Overview
//
// The conversation package sits between the HTTP/WebSocket handlers and the
// fabric underneath them: the Directory, the presence registry, the room
// synchronizer, the fan-out router, and the dispatch gateway. Handlers never
// touch those directly.
//
// # Record first, then act
//
// Every message is appended to the Directory before any live connection
// sees it. A delivery failure can never leave a message that was shown but
// not stored.
//
// # Rooms
//
// Room membership is never edited directly. Connect and every membership
// change (create, add member, remove member) call the synchronizer's
// Reconcile for each affected identity, which re-derives the room set from
// the Directory.
//
// # Bot dialogs
//
// SendToBot records and echoes the human turn, dispatches with up to the
// dispatcher's history limit of prior messages, then records and delivers the
// reply. On a provider failure the human turn stays recorded and no reply
// is stored.
package conversation
