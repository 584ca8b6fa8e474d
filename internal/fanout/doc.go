// Package fanout delivers stored messages to live connections: conversation
// messages to every connection in the conversation's room, direct messages
// to every connection of the receiver.
package fanout
