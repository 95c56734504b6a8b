package protocol

import "fmt"

// Type selects the payload schema of a packet. Values are part of the wire
// format and must never be renumbered.
type Type int

const (
	AUTH_REQUEST Type = iota + 1
	AUTH_RESPONSE
	GAME_STAGE_CHANGE
	GAME_STAGE_CHANGED
	MESSAGE_RESPONSE
	BROADCAST_MESSAGE_REQUEST
	BROADCAST_MESSAGE
	BROADCAST_RESOLVE
	LOCATION_UPDATE
	GAME_INFO_REQUEST
	GAME_INFO
	GAME_DATA_REQUEST
	GAME_DATA
	FACTORY_BUILD_REQUEST
	FACTORY_BUILD_RESPONSE
	FACTORY_DATA_REQUEST
	FACTORY_DATA
	FACTORY_DEPOSIT
	FACTORY_WITHDRAW
	FACTORY_DEFENCE_BUY
	FACTORY_LEVEL_BUY
	FACTORY_ATTACK
	FACTORY_DESTROY
	FACTORY_DESTROYED
	SHOP_BUY_IN
	SHOP_SELL_OUT
	SPECIAL_ACTION_EXECUTE
	PING_BUY

	typeCount
)

var typeNames = map[Type]string{
	AUTH_REQUEST:              "AUTH_REQUEST",
	AUTH_RESPONSE:             "AUTH_RESPONSE",
	GAME_STAGE_CHANGE:         "GAME_STAGE_CHANGE",
	GAME_STAGE_CHANGED:        "GAME_STAGE_CHANGED",
	MESSAGE_RESPONSE:          "MESSAGE_RESPONSE",
	BROADCAST_MESSAGE_REQUEST: "BROADCAST_MESSAGE_REQUEST",
	BROADCAST_MESSAGE:         "BROADCAST_MESSAGE",
	BROADCAST_RESOLVE:         "BROADCAST_RESOLVE",
	LOCATION_UPDATE:           "LOCATION_UPDATE",
	GAME_INFO_REQUEST:         "GAME_INFO_REQUEST",
	GAME_INFO:                 "GAME_INFO",
	GAME_DATA_REQUEST:         "GAME_DATA_REQUEST",
	GAME_DATA:                 "GAME_DATA",
	FACTORY_BUILD_REQUEST:     "FACTORY_BUILD_REQUEST",
	FACTORY_BUILD_RESPONSE:    "FACTORY_BUILD_RESPONSE",
	FACTORY_DATA_REQUEST:      "FACTORY_DATA_REQUEST",
	FACTORY_DATA:              "FACTORY_DATA",
	FACTORY_DEPOSIT:           "FACTORY_DEPOSIT",
	FACTORY_WITHDRAW:          "FACTORY_WITHDRAW",
	FACTORY_DEFENCE_BUY:       "FACTORY_DEFENCE_BUY",
	FACTORY_LEVEL_BUY:         "FACTORY_LEVEL_BUY",
	FACTORY_ATTACK:            "FACTORY_ATTACK",
	FACTORY_DESTROY:           "FACTORY_DESTROY",
	FACTORY_DESTROYED:         "FACTORY_DESTROYED",
	SHOP_BUY_IN:               "SHOP_BUY_IN",
	SHOP_SELL_OUT:             "SHOP_SELL_OUT",
	SPECIAL_ACTION_EXECUTE:    "SPECIAL_ACTION_EXECUTE",
	PING_BUY:                  "PING_BUY",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(t))
}

// Known reports whether t is part of the protocol.
func (t Type) Known() bool {
	return t >= AUTH_REQUEST && t < typeCount
}
