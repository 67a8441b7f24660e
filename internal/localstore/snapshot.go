package localstore

import (
	"log/slog"

	"go-livechat/internal/conversation"
)

// Restore loads persisted conversations into store.
func Restore(db *Store, store *conversation.Store) (int, error) {
	convs, err := db.LoadConversations()
	if err != nil {
		return 0, err
	}
	store.Restore(convs)
	return len(convs), nil
}

// Attach saves a conversation every time the store reports a change to it.
func Attach(db *Store, store *conversation.Store, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	store.Observe(func(sessionID string) {
		c, ok := store.Get(sessionID)
		if !ok {
			return
		}
		if err := db.SaveConversation(c); err != nil {
			log.Warn("failed to persist conversation", "session", sessionID, "error", err)
		}
	})
}
