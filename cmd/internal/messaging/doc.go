// Package messaging is the trainer/client conversation core.
//
// A conversation has no stored lifecycle: its id is derived from the two
// participant ids (ResolveConversationID) and it exists once a message is
// appended under that id. Backends persist the per-conversation log, change
// feeds signal writes, and the higher level pieces (ReadState, Directory,
// Pipeline, LiveChannel, SearchIndex) are built on the Store facade.
package messaging
