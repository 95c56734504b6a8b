package database

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Fixture is the YAML document used to seed and snapshot the memory backend.
type Fixture struct {
	Users     []User     `yaml:"users"`
	Sessions  []Session  `yaml:"sessions"`
	Games     []Game     `yaml:"games"`
	Teams     []Team     `yaml:"teams"`
	GameUsers []GameUser `yaml:"game_users"`
	Factories []Factory  `yaml:"factories"`
}

func (f *Fixture) sort() {
	sort.Slice(f.Sessions, func(i, j int) bool { return f.Sessions[i].ID < f.Sessions[j].ID })
	sort.Slice(f.Users, func(i, j int) bool { return f.Users[i].ID < f.Users[j].ID })
	sort.Slice(f.Games, func(i, j int) bool { return f.Games[i].ID < f.Games[j].ID })
	sort.Slice(f.Teams, func(i, j int) bool { return f.Teams[i].ID < f.Teams[j].ID })
	sort.Slice(f.GameUsers, func(i, j int) bool { return f.GameUsers[i].ID < f.GameUsers[j].ID })
	sort.Slice(f.Factories, func(i, j int) bool { return f.Factories[i].ID < f.Factories[j].ID })
}

func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read fixture")
	}

	var fixture Fixture
	if err := yaml.UnmarshalStrict(data, &fixture); err != nil {
		return nil, errors.Wrapf(err, "unable to decode fixture %s", path)
	}
	return &fixture, nil
}

func SaveFixture(path string, fixture *Fixture) error {
	res, err := yaml.Marshal(fixture)
	if err != nil {
		return err
	}

	// Write to a sibling file first so a crash never leaves a truncated snapshot.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, res, 0600); err != nil {
		return errors.Wrap(err, "unable to write snapshot")
	}
	return os.Rename(tmp, path)
}
