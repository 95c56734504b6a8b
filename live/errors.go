package live

// UserError is a rejection the player is told about verbatim. Dialog errors
// are shown in a blocking dialog instead of a toast.
type UserError struct {
	Message string
	Dialog  bool
}

func (e *UserError) Error() string {
	return e.Message
}

var (
	ErrGameNotFound     = &UserError{Message: "this game does not exist"}
	ErrFactoryNotFound  = &UserError{Message: "this lab does not exist"}
	ErrNotJoined        = &UserError{Message: "you are not part of this game"}
	ErrNotPlayer        = &UserError{Message: "only players can do this"}
	ErrGameNotRunning   = &UserError{Message: "the game is not running"}
	ErrNoRecentLocation = &UserError{Message: "your location is unknown, wait for a GPS fix", Dialog: true}
	ErrOutOfRange       = &UserError{Message: "you are too far away"}
	ErrNotTeam          = &UserError{Message: "this lab belongs to another team"}
	ErrNotVisible       = &UserError{Message: "you can't see this lab"}
	ErrFactoryCloseBy   = &UserError{Message: "lab close by", Dialog: true}
	ErrInvalidName      = &UserError{Message: "invalid lab name"}
	ErrPricesChanged    = &UserError{Message: "prices have changed", Dialog: true}
	ErrNotEnoughMoney   = &UserError{Message: "not enough money"}
	ErrNotEnoughGoods   = &UserError{Message: "not enough goods"}
	ErrInvalidAmount    = &UserError{Message: "invalid amount"}
	ErrOwnTeam          = &UserError{Message: "you can't attack your own lab"}
	ErrNotConquerable   = &UserError{Message: "not enough players to conquer this lab", Dialog: true}
	ErrNoPermission     = &UserError{Message: "you don't have permission to do this"}
	ErrShopGone         = &UserError{Message: "this shop is gone", Dialog: true}
	ErrNoPingTargets    = &UserError{Message: "no labs found in range"}
	ErrNotSpecial       = &UserError{Message: "only special players can do this"}
	ErrUnknownAction    = &UserError{Message: "unknown special action"}
	ErrCooldown         = &UserError{Message: "this action is not available yet"}
	ErrMaxLevel         = &UserError{Message: "this lab is at its maximum level"}
	ErrStageUnchanged   = &UserError{Message: "the game is already in this stage"}
)
