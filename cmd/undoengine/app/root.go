// Package app wires the undoengine binary's cobra subcommands onto a
// shared root command, mirroring the teacher's cmd/server/app/root.go: a
// package-level rootCmd plus one initXxx() call per subcommand.
package app

import (
	"context"

	"undoengine/internal/cli"
)

var rootCmd = cli.Init("undoengine")

func MustExecute(ctx context.Context) {
	initInsert()
	initRecover()
	rootCmd.MustExecute(ctx)
}
