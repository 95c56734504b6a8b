package live

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Shop is a player temporarily acting as a trading post. InPrice is what one
// unit of in-goods costs; OutPrice is what one unit of out-goods pays.
type Shop struct {
	Token    string
	UserID   string
	InPrice  int64
	OutPrice int64
	Until    time.Time
}

type ShopManager struct {
	game *Game

	mu    sync.Mutex
	shops map[string]Shop
	rand  *rand.Rand
}

func newShopManager(g *Game) *ShopManager {
	return &ShopManager{
		game:  g,
		shops: map[string]Shop{},
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Get returns the shop with the given token if it is still open at now.
func (m *ShopManager) Get(token string, now time.Time) (Shop, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shops[token]
	if !ok || !now.Before(s.Until) {
		return Shop{}, false
	}
	return s, true
}

// Open returns every shop still open at now, sorted by token.
func (m *ShopManager) Open(now time.Time) []Shop {
	m.mu.Lock()
	defer m.mu.Unlock()
	shops := make([]Shop, 0, len(m.shops))
	for _, s := range m.shops {
		if now.Before(s.Until) {
			shops = append(shops, s)
		}
	}
	sort.Slice(shops, func(i, j int) bool { return shops[i].Token < shops[j].Token })
	return shops
}

// Add opens a shop, filling in the token when empty.
func (m *ShopManager) Add(s Shop) Shop {
	if s.Token == "" {
		s.Token = uuid.NewString()
	}
	m.mu.Lock()
	m.shops[s.Token] = s
	m.mu.Unlock()
	return s
}

func (m *ShopManager) price(min, max int64) int64 {
	if max <= min {
		return min
	}
	return min + m.rand.Int63n(max-min+1)
}

// rotate closes expired shops and opens new ones among candidates until the
// configured count is reached. It returns the shops opened and closed.
func (m *ShopManager) rotate(now time.Time, candidates []string) (opened []Shop, closed []Shop) {
	config := m.game.config
	m.mu.Lock()
	defer m.mu.Unlock()

	keepers := map[string]bool{}
	for token, s := range m.shops {
		if !now.Before(s.Until) {
			closed = append(closed, s)
			delete(m.shops, token)
			continue
		}
		keepers[s.UserID] = true
	}

	var free []string
	for _, userID := range candidates {
		if !keepers[userID] {
			free = append(free, userID)
		}
	}
	m.rand.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })

	lifetime := time.Duration(config.Shop_Lifetime) * time.Second
	for len(m.shops) < config.Shop_Count && len(free) > 0 {
		s := Shop{
			Token:    uuid.NewString(),
			UserID:   free[0],
			InPrice:  m.price(config.Shop_Buy_Price_Min, config.Shop_Buy_Price_Max),
			OutPrice: m.price(config.Shop_Sell_Price_Min, config.Shop_Sell_Price_Max),
			Until:    now.Add(lifetime),
		}
		free = free[1:]
		m.shops[s.Token] = s
		opened = append(opened, s)
	}

	sort.Slice(opened, func(i, j int) bool { return opened[i].Token < opened[j].Token })
	sort.Slice(closed, func(i, j int) bool { return closed[i].Token < closed[j].Token })
	return opened, closed
}
