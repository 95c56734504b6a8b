package database

import (
	"time"

	"dworekgo/util"
)

type GameStage int

const (
	GAME_STAGE_OPEN GameStage = iota
	GAME_STAGE_RUNNING
	GAME_STAGE_FINISHED
)

func (s GameStage) String() string {
	switch s {
	case GAME_STAGE_OPEN:
		return "open"
	case GAME_STAGE_RUNNING:
		return "running"
	case GAME_STAGE_FINISHED:
		return "finished"
	}
	return "unknown"
}

type Session struct {
	ID         string    `bson:"_id" yaml:"id"`
	Token      string    `bson:"token" yaml:"token"`
	UserID     string    `bson:"user_id" yaml:"user_id"`
	CreateDate time.Time `bson:"create_date" yaml:"create_date"`
	ExpireDate time.Time `bson:"expire_date" yaml:"expire_date"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpireDate)
}

type User struct {
	ID      string `bson:"_id" yaml:"id" json:"id"`
	Name    string `bson:"name" yaml:"name" json:"name"`
	IsAdmin bool   `bson:"is_admin" yaml:"is_admin" json:"isAdmin"`
}

type Game struct {
	ID      string    `bson:"_id" yaml:"id"`
	Name    string    `bson:"name" yaml:"name"`
	Stage   GameStage `bson:"stage" yaml:"stage"`
	OwnerID string    `bson:"owner_id" yaml:"owner_id"`
}

// HasManagePermission reports whether user may run management actions on the game.
func (g *Game) HasManagePermission(user *User) bool {
	if user == nil {
		return false
	}
	return user.IsAdmin || g.OwnerID == user.ID
}

type Team struct {
	ID     string `bson:"_id" yaml:"id"`
	GameID string `bson:"game_id" yaml:"game_id"`
	Name   string `bson:"name" yaml:"name"`
	Color  string `bson:"color" yaml:"color"`
}

// GameUser is the membership of a user in a game, holding their balances.
type GameUser struct {
	ID        string `bson:"_id" yaml:"id"`
	GameID    string `bson:"game_id" yaml:"game_id"`
	UserID    string `bson:"user_id" yaml:"user_id"`
	TeamID    string `bson:"team_id" yaml:"team_id"`
	IsSpecial bool   `bson:"is_special" yaml:"is_special"`
	Money     int64  `bson:"money" yaml:"money"`
	In        int64  `bson:"in" yaml:"in"`
	Out       int64  `bson:"out" yaml:"out"`
}

// IsPlayer is false for spectators, who joined without a team.
func (u *GameUser) IsPlayer() bool {
	return u.TeamID != ""
}

type Factory struct {
	ID         string          `bson:"_id" yaml:"id"`
	GameID     string          `bson:"game_id" yaml:"game_id"`
	Name       string          `bson:"name" yaml:"name"`
	TeamID     string          `bson:"team_id" yaml:"team_id"`
	CreatorID  string          `bson:"creator_id" yaml:"creator_id"`
	Location   util.Coordinate `bson:"location" yaml:"location"`
	Level      int             `bson:"level" yaml:"level"`
	Defence    int64           `bson:"defence" yaml:"defence"`
	In         int64           `bson:"in" yaml:"in"`
	Out        int64           `bson:"out" yaml:"out"`
	CreateDate time.Time       `bson:"create_date" yaml:"create_date"`
}

// Changes is a batch of writes that a backend applies all-or-nothing.
type Changes struct {
	Users     []GameUser
	Factories []Factory
	Created   []Factory
	Deleted   []string
}

func (c Changes) Empty() bool {
	return len(c.Users) == 0 && len(c.Factories) == 0 && len(c.Created) == 0 && len(c.Deleted) == 0
}
