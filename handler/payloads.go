package handler

import (
	"time"

	"dworekgo/database"
	"dworekgo/live"
	"dworekgo/protocol"
	"dworekgo/util"
)

func coordinatePayload(c util.Coordinate) protocol.Payload {
	return protocol.Payload{
		"latitude":  c.Latitude,
		"longitude": c.Longitude,
		"altitude":  c.Altitude,
	}
}

func teamPayload(t database.Team) protocol.Payload {
	return protocol.Payload{
		"id":    t.ID,
		"name":  t.Name,
		"color": t.Color,
	}
}

func balancePayload(u database.GameUser) protocol.Payload {
	return protocol.Payload{
		"money":     u.Money,
		"in":        u.In,
		"out":       u.Out,
		"moneyText": util.FormatMoney(u.Money),
		"inText":    util.FormatGoods(u.In),
		"outText":   util.FormatGoods(u.Out),
	}
}

// factorySummary is what GAME_DATA lists for every visible lab.
func factorySummary(f database.Factory) protocol.Payload {
	return protocol.Payload{
		"id":       f.ID,
		"name":     f.Name,
		"team":     f.TeamID,
		"level":    f.Level,
		"location": coordinatePayload(f.Location),
	}
}

func factorySummaries(factories []database.Factory) []protocol.Payload {
	list := make([]protocol.Payload, 0, len(factories))
	for _, f := range factories {
		list = append(list, factorySummary(f))
	}
	return list
}

func shopPayload(s live.Shop, now time.Time) protocol.Payload {
	return protocol.Payload{
		"token":     s.Token,
		"user":      s.UserID,
		"inPrice":   s.InPrice,
		"outPrice":  s.OutPrice,
		"remaining": util.FormatDuration(s.Until.Sub(now)),
	}
}

func pingTierPayload(t live.PingTierPrice) protocol.Payload {
	return protocol.Payload{
		"id":        t.ID,
		"name":      t.Name,
		"range":     t.Range,
		"max":       t.Max,
		"duration":  t.Duration,
		"cost":      t.Cost,
		"rangeText": util.FormatDistance(t.Range),
		"costText":  util.FormatMoney(t.Cost),
	}
}

func standingPayload(s live.Standing) protocol.Payload {
	return protocol.Payload{
		"team":      teamPayload(s.Team),
		"money":     s.Money,
		"goods":     s.Goods,
		"factories": s.Factories,
		"moneyText": util.FormatMoney(s.Money),
	}
}
