package handler

import (
	"strings"

	"dworekgo/broadcast"
	"dworekgo/processor"
	"dworekgo/protocol"

	"golang.org/x/sync/errgroup"
)

func (h *Handlers) handleAuth(tx *transaction) error {
	token := tx.payload().OptString("session")
	if strings.TrimSpace(token) == "" {
		tx.responded.Store(true)
		tx.reply(protocol.AUTH_RESPONSE, protocol.Payload{"loggedIn": false})
		return nil
	}

	user, err := h.validator.UserByToken(tx.ctx, token)
	if err != nil {
		tx.log.WithError(err).Warn("Session lookup failed, rejecting")
	}
	tx.responded.Store(true)
	if err != nil || user == nil {
		h.proc.Authenticate(tx.conn, processor.Session{Valid: false})
		tx.reply(protocol.AUTH_RESPONSE, protocol.Payload{"loggedIn": true, "valid": false})
		return nil
	}

	h.proc.Authenticate(tx.conn, processor.Session{Valid: true, UserID: user.ID, User: user})
	tx.reply(protocol.AUTH_RESPONSE, protocol.Payload{
		"loggedIn": true,
		"valid":    true,
		"user": protocol.Payload{
			"id":      user.ID,
			"name":    user.Name,
			"isAdmin": user.IsAdmin,
		},
	})

	h.flushBroadcasts(tx, user.ID)
	return nil
}

// flushBroadcasts sends every queued broadcast of the user to this connection.
// Entries stay queued until the client resolves them.
func (h *Handlers) flushBroadcasts(tx *transaction, userID string) {
	pending := h.broadcasts.Get(userID)
	if len(pending) == 0 {
		return
	}

	names := make([]string, len(pending))
	failed := make([]bool, len(pending))
	var group errgroup.Group
	for i, b := range pending {
		i, b := i, b
		group.Go(func() error {
			game, err := h.store.Game(tx.ctx, b.GameID)
			if err != nil {
				tx.log.WithError(err).Errorf("Unable to resolve game %s for broadcast %s", b.GameID, b.UID)
				failed[i] = true
				return nil
			}
			names[i] = game.Name
			return nil
		})
	}
	_ = group.Wait()

	for i, b := range pending {
		if failed[i] {
			continue
		}
		b.GameName = names[i]
		b.Delivery = broadcast.DELIVERY_QUEUED
		tx.reply(protocol.BROADCAST_MESSAGE, b.Payload())
	}
}

func (h *Handlers) handleBroadcastResolve(tx *transaction) error {
	s, err := tx.session()
	if err != nil {
		return err
	}
	if tx.payload().OptBool("all") {
		n := h.broadcasts.ResolveAll(s.UserID)
		tx.log.Debugf("Resolved %d broadcast(s)", n)
		return nil
	}

	token, err := tx.payload().String("token")
	if err != nil {
		return err
	}
	h.broadcasts.Resolve(s.UserID, token)
	return nil
}
