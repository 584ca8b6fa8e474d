// Package presence tracks live client connections and the rooms they listen on.
//
// # Overview
//
// A Registry maps identities to their connections and connections to rooms.
// Every connection owns a bounded outbox; events that do not fit are dropped
// for that connection only, so one slow client never stalls delivery to the
// rest.
//
// # Rooms
//
// A room is named after a conversation ID. The Synchronizer derives the set
// of rooms an identity belongs to from the conversation directory and joins
// all of that identity's connections to them:
//
//	sync := presence.NewSynchronizer(registry, directory, logger)
//	if err := sync.Reconcile(ctx, "alice"); err != nil {
//	    // alice's connections keep their previous rooms
//	}
//
// # Presence events
//
// Whenever the online set changes, every connection receives a
// presenceChanged event carrying the full list of online identities.
package presence
