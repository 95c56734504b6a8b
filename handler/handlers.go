// Package handler implements the packet handlers of the game server.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"dworekgo/broadcast"
	"dworekgo/database"
	"dworekgo/eventlogger"
	"dworekgo/live"
	"dworekgo/processor"
	"dworekgo/protocol"
	"dworekgo/session"

	"github.com/apex/log"
)

const serverErrorMessage = "a server error occurred"

var (
	errNotAuthenticated = &live.UserError{Message: "not authenticated"}
	errInvalidRequest   = &live.UserError{Message: "invalid request"}
)

// Handlers carries the services every handler works with.
type Handlers struct {
	proc       *processor.Processor
	validator  *session.Validator
	broadcasts *broadcast.Queue
	games      *live.Registry
	store      database.Store
	events     *eventlogger.EventLogger
	log        *log.Entry
}

func New(proc *processor.Processor, validator *session.Validator, broadcasts *broadcast.Queue,
	games *live.Registry, store database.Store, events *eventlogger.EventLogger) *Handlers {
	return &Handlers{
		proc:       proc,
		validator:  validator,
		broadcasts: broadcasts,
		games:      games,
		store:      store,
		events:     events,
		log: log.WithFields(log.Fields{
			"name":    "Handlers",
			"modName": "Handlers",
		}),
	}
}

// Register binds every handler to its packet type.
func (h *Handlers) Register() error {
	handlers := map[protocol.Type]processor.HandlerFunc{
		protocol.AUTH_REQUEST:              h.public(h.handleAuth),
		protocol.GAME_STAGE_CHANGE:         h.wrap(h.handleStageChange),
		protocol.BROADCAST_MESSAGE_REQUEST: h.wrap(h.handleBroadcastRequest),
		protocol.BROADCAST_RESOLVE:         h.wrap(h.handleBroadcastResolve),
		protocol.LOCATION_UPDATE:           h.wrapQuiet(h.handleLocationUpdate),
		protocol.GAME_INFO_REQUEST:         h.wrap(h.handleGameInfo),
		protocol.GAME_DATA_REQUEST:         h.wrap(h.handleGameData),
		protocol.FACTORY_BUILD_REQUEST:     h.wrap(h.handleFactoryBuild),
		protocol.FACTORY_DATA_REQUEST:      h.wrap(h.handleFactoryData),
		protocol.FACTORY_DEPOSIT:           h.wrap(h.handleFactoryDeposit),
		protocol.FACTORY_WITHDRAW:          h.wrap(h.handleFactoryWithdraw),
		protocol.FACTORY_DEFENCE_BUY:       h.wrap(h.handleDefenceBuy),
		protocol.FACTORY_LEVEL_BUY:         h.wrap(h.handleLevelBuy),
		protocol.FACTORY_ATTACK:            h.wrap(h.handleFactoryAttack),
		protocol.FACTORY_DESTROY:           h.wrap(h.handleFactoryDestroy),
		protocol.SHOP_BUY_IN:               h.wrap(h.handleShopBuyIn),
		protocol.SHOP_SELL_OUT:             h.wrap(h.handleShopSellOut),
		protocol.SPECIAL_ACTION_EXECUTE:    h.wrap(h.handleSpecialAction),
		protocol.PING_BUY:                  h.wrap(h.handlePingBuy),
	}

	for t, fn := range handlers {
		if err := h.proc.RegisterHandler(t, fn); err != nil {
			return err
		}
	}
	h.games.SetTickObserver(h.onTick)
	return nil
}

// transaction is one handler invocation. Whatever branch fails first answers
// the client; later failures are only logged.
type transaction struct {
	h      *Handlers
	ctx    context.Context
	conn   *processor.Connection
	packet protocol.Packet
	log    *log.Entry

	quiet     bool
	responded atomic.Bool
}

type handlerFunc func(tx *transaction) error

func (h *Handlers) newTransaction(ctx context.Context, packet protocol.Packet, conn *processor.Connection) *transaction {
	return &transaction{
		h:      h,
		ctx:    ctx,
		conn:   conn,
		packet: packet,
		log: h.log.WithFields(log.Fields{
			"packet":     packet.Type.String(),
			"connection": conn.ID(),
		}),
	}
}

// wrap runs fn for authenticated connections only; any error it returns
// becomes the transaction's single error response.
func (h *Handlers) wrap(fn handlerFunc) processor.HandlerFunc {
	return h.run(fn, true, false)
}

// wrapQuiet is wrap for background packets: failures are logged, never sent.
func (h *Handlers) wrapQuiet(fn handlerFunc) processor.HandlerFunc {
	return h.run(fn, true, true)
}

// public runs fn whether or not the connection is authenticated.
func (h *Handlers) public(fn handlerFunc) processor.HandlerFunc {
	return h.run(fn, false, false)
}

func (h *Handlers) run(fn handlerFunc, authenticated bool, quiet bool) processor.HandlerFunc {
	return func(ctx context.Context, packet protocol.Packet, conn *processor.Connection) {
		tx := h.newTransaction(ctx, packet, conn)
		tx.quiet = quiet
		if authenticated {
			if _, err := tx.session(); err != nil {
				tx.fail(err)
				return
			}
		}
		if err := fn(tx); err != nil {
			tx.fail(err)
		}
	}
}

func (tx *transaction) payload() protocol.Payload {
	return tx.packet.Payload
}

// session returns the connection's identity or errNotAuthenticated.
func (tx *transaction) session() (processor.Session, error) {
	s := tx.conn.Session()
	if !s.Valid {
		return s, errNotAuthenticated
	}
	return s, nil
}

func (tx *transaction) reply(t protocol.Type, payload protocol.Payload) {
	if err := tx.conn.Send(t, payload); err != nil {
		tx.log.Debugf("Unable to reply with %s: %s", t, err)
	}
}

func messagePayload(message string, isError bool, dialog bool) protocol.Payload {
	return protocol.Payload{
		"error":   isError,
		"message": message,
		"dialog":  dialog,
		"toast":   !dialog,
	}
}

// succeed answers with a toast. It counts as the transaction's response.
func (tx *transaction) succeed(format string, args ...interface{}) {
	if !tx.responded.CompareAndSwap(false, true) {
		return
	}
	tx.reply(protocol.MESSAGE_RESPONSE, messagePayload(fmt.Sprintf(format, args...), false, false))
}

func (tx *transaction) fail(err error) {
	var userErr *live.UserError
	isUserErr := errors.As(err, &userErr)
	if errors.Is(err, protocol.ErrMalformed) {
		userErr, isUserErr = errInvalidRequest, true
	}

	if !isUserErr {
		tx.log.WithError(err).Error("Transaction failed")
		userErr = &live.UserError{Message: serverErrorMessage}
	} else {
		tx.log.Debugf("Rejected: %s", err)
	}

	if tx.quiet || !tx.responded.CompareAndSwap(false, true) {
		return
	}
	tx.reply(protocol.MESSAGE_RESPONSE, messagePayload(userErr.Message, true, userErr.Dialog))
}

// member resolves the live game and the session user's membership in it.
func (tx *transaction) member(gameID string) (processor.Session, *live.Game, *live.User, error) {
	s, err := tx.session()
	if err != nil {
		return s, nil, nil, err
	}
	g, err := tx.h.games.Game(tx.ctx, gameID)
	if err != nil {
		return s, nil, nil, err
	}
	u, err := g.Users.User(tx.ctx, s.UserID)
	if err != nil {
		return s, nil, nil, err
	}
	return s, g, u, nil
}

// factoryMember resolves a lab, its game and the session user's membership.
func (tx *transaction) factoryMember(factoryID string) (processor.Session, *live.Game, *live.Factory, *live.User, error) {
	s, err := tx.session()
	if err != nil {
		return s, nil, nil, nil, err
	}
	g, f, err := tx.h.games.Factory(tx.ctx, factoryID)
	if err != nil {
		return s, nil, nil, nil, err
	}
	u, err := g.Users.User(tx.ctx, s.UserID)
	if err != nil {
		return s, nil, nil, nil, err
	}
	return s, g, f, u, nil
}

func (h *Handlers) event(eventType string, gameID string, who string, format string, args ...interface{}) {
	h.events.Log(eventlogger.NewLoggedEvent(eventType, gameID, who, fmt.Sprintf(format, args...)))
}
