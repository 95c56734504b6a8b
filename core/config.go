package core

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type DefenceUpgrade struct {
	Cost    int64
	Defence int64
}

type PingTier struct {
	ID            int
	Name          string
	Range         float64
	Max           int
	Duration      int
	Price         int64
	Price_Percent float64
}

type GameConfig struct {
	Factory_Cost          int64
	Factory_Interspace    float64
	Factory_Max_Level     int
	Action_Range          float64
	Visibility_Range      float64
	Location_Freshness    int
	Tick_Interval         int
	Production_Per_Level  int64
	Level_Cost_Base       int64
	Level_Cost_Multiplier float64
	Defence_Upgrades      []DefenceUpgrade
	Ping_Tiers            []PingTier

	Shop_Count          int
	Shop_Lifetime       int
	Shop_Range          float64
	Shop_Buy_Price_Min  int64
	Shop_Buy_Price_Max  int64
	Shop_Sell_Price_Min int64
	Shop_Sell_Price_Max int64

	Special_Reveal_Duration int
	Special_Cooldown        int
}

func (g *GameConfig) LocationFreshness() time.Duration {
	return time.Duration(g.Location_Freshness) * time.Second
}

func (g *GameConfig) TickInterval() time.Duration {
	return time.Duration(g.Tick_Interval) * time.Second
}

type ServerConfig struct {
	Daemon struct {
		Name string
	}
	Server struct {
		Bind             string
		Path             string
		Allowed_Origins  []string
		Keepalive        int
		Write_Timeout    int
		Send_Buffer_Size int
		Handler_Timeout  int
		Metrics_Path     string
	}
	Session struct {
		Token_Min_Length int
		Token_Max_Length int
		Cache            struct {
			Type  string
			TTL   int
			Redis struct {
				Address  string
				Password string
				DB       int
			}
		}
	}
	Backend struct {
		Type string

		// MONGO BACKEND
		Server       string
		Database     string
		Transactions bool

		// MEMORY BACKEND
		File     string
		Snapshot string
	}
	Eventlogger struct {
		Output string
	}
	Game GameConfig
}

func (c *ServerConfig) HandlerTimeout() time.Duration {
	return time.Duration(c.Server.Handler_Timeout) * time.Second
}

func (c *ServerConfig) Keepalive() time.Duration {
	return time.Duration(c.Server.Keepalive) * time.Second
}

func (c *ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Server.Write_Timeout) * time.Second
}

func (c *ServerConfig) SessionCacheTTL() time.Duration {
	return time.Duration(c.Session.Cache.TTL) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon.name", "labserver")

	v.SetDefault("server.bind", "0.0.0.0:7000")
	v.SetDefault("server.path", "/realtime")
	v.SetDefault("server.keepalive", 60)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.send_buffer_size", 256)
	v.SetDefault("server.handler_timeout", 10)
	v.SetDefault("server.metrics_path", "/metrics")

	v.SetDefault("session.token_min_length", 32)
	v.SetDefault("session.token_max_length", 64)
	v.SetDefault("session.cache.type", "memory")
	v.SetDefault("session.cache.ttl", 300)
	v.SetDefault("session.cache.redis.address", "localhost:6379")

	v.SetDefault("backend.type", "memory")
	v.SetDefault("backend.server", "mongodb://localhost:27017")
	v.SetDefault("backend.database", "dworek")
	v.SetDefault("backend.transactions", true)

	v.SetDefault("eventlogger.output", "")

	v.SetDefault("game.factory_cost", 1000)
	v.SetDefault("game.factory_interspace", 50)
	v.SetDefault("game.factory_max_level", 10)
	v.SetDefault("game.action_range", 30)
	v.SetDefault("game.visibility_range", 150)
	v.SetDefault("game.location_freshness", 120)
	v.SetDefault("game.tick_interval", 10)
	v.SetDefault("game.production_per_level", 2)
	v.SetDefault("game.level_cost_base", 500)
	v.SetDefault("game.level_cost_multiplier", 1.5)
	v.SetDefault("game.defence_upgrades", []map[string]interface{}{
		{"cost": 250, "defence": 1},
		{"cost": 600, "defence": 2},
		{"cost": 1400, "defence": 4},
	})
	v.SetDefault("game.ping_tiers", []map[string]interface{}{
		{"id": 1, "name": "Local", "range": 250, "max": 1, "duration": 120, "price": 100, "price_percent": 0.02},
		{"id": 2, "name": "Area", "range": 750, "max": 3, "duration": 180, "price": 400, "price_percent": 0.05},
		{"id": 3, "name": "Wide", "range": 2500, "max": 10, "duration": 300, "price": 1500, "price_percent": 0.1},
	})
	v.SetDefault("game.shop_count", 2)
	v.SetDefault("game.shop_lifetime", 600)
	v.SetDefault("game.shop_range", 30)
	v.SetDefault("game.shop_buy_price_min", 2)
	v.SetDefault("game.shop_buy_price_max", 6)
	v.SetDefault("game.shop_sell_price_min", 8)
	v.SetDefault("game.shop_sell_price_max", 16)
	v.SetDefault("game.special_reveal_duration", 60)
	v.SetDefault("game.special_cooldown", 900)
}

// DefaultConfig returns the configuration used when no file overrides anything.
func DefaultConfig() *ServerConfig {
	v := viper.New()
	setDefaults(v)

	conf := &ServerConfig{}
	if err := v.Unmarshal(conf); err != nil {
		panic(fmt.Sprintf("default configuration does not decode: %v", err))
	}
	return conf
}

func LoadConfig(path string, name string) (*ServerConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath(path)
	v.SetConfigName(name)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to load configuration file: %v", err)
	}

	conf := &ServerConfig{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("unable to decode configuration file: %v", err)
	}

	if conf.Session.Token_Min_Length > conf.Session.Token_Max_Length {
		return nil, fmt.Errorf("session.token_min_length (%d) exceeds session.token_max_length (%d)",
			conf.Session.Token_Min_Length, conf.Session.Token_Max_Length)
	}

	return conf, nil
}
