package handler

import (
	"dworekgo/live"
	"dworekgo/util"
)

type shopTrade func(g *live.Game, tx *transaction, u *live.User, token string, amount int64, all bool, price int64) (live.Trade, error)

func (h *Handlers) handleShopBuyIn(tx *transaction) error {
	return h.trade(tx, func(g *live.Game, tx *transaction, u *live.User, token string, amount int64, all bool, price int64) (live.Trade, error) {
		trade, err := g.ShopBuyIn(tx.ctx, u, token, amount, all, price)
		if err == nil {
			tx.succeed("Bought %s for %s", util.FormatGoods(trade.Amount), util.FormatMoney(trade.Total))
		}
		return trade, err
	})
}

func (h *Handlers) handleShopSellOut(tx *transaction) error {
	return h.trade(tx, func(g *live.Game, tx *transaction, u *live.User, token string, amount int64, all bool, price int64) (live.Trade, error) {
		trade, err := g.ShopSellOut(tx.ctx, u, token, amount, all, price)
		if err == nil {
			tx.succeed("Sold %s for %s", util.FormatGoods(trade.Amount), util.FormatMoney(trade.Total))
		}
		return trade, err
	})
}

// trade reads {shop, amount, all, price}, finds the open shop and runs fn
// against the acting member.
func (h *Handlers) trade(tx *transaction, fn shopTrade) error {
	token, err := tx.payload().String("shop")
	if err != nil {
		return err
	}
	amount, all, err := amountFields(tx.payload())
	if err != nil {
		return err
	}
	price, err := tx.payload().Int("price")
	if err != nil {
		return err
	}

	s, err := tx.session()
	if err != nil {
		return err
	}
	g, _, ok := h.games.Shop(token)
	if !ok {
		return live.ErrShopGone
	}
	u, err := g.Users.User(tx.ctx, s.UserID)
	if err != nil {
		return err
	}
	if _, err := fn(g, tx, u, token, amount, all, price); err != nil {
		return err
	}
	h.pushGameData(tx.ctx, g, s.UserID)
	return nil
}
