package live

import (
	"context"
	"testing"
	"time"

	"dworekgo/test"

	"github.com/tj/assert"
)

func TestGame_PingQuoteStaleAfterTeamCommit(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(test.NewStore(), test.Config(), nil)
	r.Clock = func() time.Time { return at }
	defer r.Close()

	g, err := r.Game(ctx, test.GameID)
	assert.NoError(t, err)
	carol, err := g.Users.User(ctx, test.Carol)
	assert.NoError(t, err)
	carol.SetLocation(Location{Coordinate: test.Home.Offset(400, 0), Accuracy: 5, Time: at})
	dave, err := g.Users.User(ctx, test.Dave)
	assert.NoError(t, err)
	dave.SetLocation(Location{Coordinate: test.Home.Offset(2000, 0), Accuracy: 5, Time: at})

	q, err := g.quotePing(ctx, 2, test.TeamBlue)
	assert.NoError(t, err)
	assert.Equal(t, int64(500), q.tier.Cost)

	// A teammate spends money between the quote and the purchase.
	_, err = g.BuildFactory(ctx, dave, "Far lab")
	assert.NoError(t, err)

	_, err = g.buyPing(ctx, carol, q, 500)
	assert.Equal(t, ErrPricesChanged, err)
	assert.Equal(t, int64(test.StartMoney), carol.Record().Money)

	result, err := g.BuyPing(ctx, carol, 2, 450)
	assert.NoError(t, err)
	assert.Equal(t, int64(450), result.Tier.Cost)
	assert.Equal(t, int64(test.StartMoney-450), carol.Record().Money)
}
