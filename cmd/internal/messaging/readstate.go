package messaging

import "context"

// ReadState derives and acknowledges unread counts. Unread for a viewer means
// a message from the counterpart whose read flag is still false.
type ReadState struct {
	store *Store
}

// NewReadState constructs a ReadState over store.
func NewReadState(store *Store) *ReadState {
	return &ReadState{store: store}
}

// UnreadCount returns how many counterpart messages viewerID has not read.
func (r *ReadState) UnreadCount(ctx context.Context, conversationID, viewerID string) (int, error) {
	if _, err := Counterpart(conversationID, viewerID); err != nil {
		return 0, err
	}
	n, err := r.store.backend.CountUnread(ctx, conversationID, viewerID)
	if err != nil {
		return 0, persistErr("unread_count", err)
	}
	return n, nil
}

// MarkAllRead sets the read flag on every counterpart message. Messages sent
// by viewerID are never touched. Watchers are signalled when anything changed.
func (r *ReadState) MarkAllRead(ctx context.Context, conversationID, viewerID string) (int, error) {
	if _, err := Counterpart(conversationID, viewerID); err != nil {
		return 0, err
	}
	n, err := r.store.backend.MarkRead(ctx, conversationID, viewerID)
	if err != nil {
		return 0, persistErr("mark_all_read", err)
	}
	if n > 0 {
		r.store.log.Debug("conversation.read",
			"conversation_id", conversationID,
			"viewer_id", viewerID,
			"marked", n,
		)
		r.store.publish(ctx, conversationID)
	}
	return n, nil
}
