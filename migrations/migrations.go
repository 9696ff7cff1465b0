package migrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()

func init() {
	// Picks up SQL migrations written by `migrate create` next to this file.
	if err := Migrations.DiscoverCaller(); err != nil {
		panic(err)
	}
}
