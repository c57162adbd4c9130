package main

import (
	"database/sql"

	"github.com/trezcool/goose"

	appfs "github.com/trezcool/masomo-billing/fs"
)

// gooseRunFunc runs a goose command against the embedded migrations.
var gooseRunFunc = func(command string, db *sql.DB, args ...string) error { // mockable
	return goose.RunFS(command, db, appfs.FS, "migrations", args...)
}

func (cli *commandLine) migrate(args []string) error {
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], cli.db, arguments...)
}
