package db

import (
	"github.com/pkg/errors"

	"github.com/pulseplan/pulse/internal/profile"
	"github.com/pulseplan/pulse/store"
	"github.com/pulseplan/pulse/store/db/postgres"
	"github.com/pulseplan/pulse/store/db/sqlite"
)

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
}
