// Package app is the process shell: the generic Init/Run/Close lifecycle
// every command wires an Entrypoint implementation into, and the concrete
// Entrypoint that stands up the undo engine's storage stack.
//
// Grounded verbatim in shape on the teacher's src/app/entrypoint.go: an
// Entrypoint interface, a Run helper that installs a signal.NotifyContext,
// and an errgroup.WithContext pairing the entrypoint's own Run against a
// goroutine that calls Close once the context is cancelled.
package app

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

type Entrypoint interface {
	io.Closer
	Init(ctx context.Context) error
	Run(ctx context.Context) error
}

func Run(ctx context.Context, e Entrypoint) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := e.Init(ctx); err != nil {
		return fmt.Errorf("entrypoint init error: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		// cancel unblocks the shutdown goroutine below once a one-shot
		// Action (e.g. the insert/recover CLI subcommands) returns, rather
		// than waiting for a signal that will never arrive.
		defer cancel()
		return e.Run(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		fmt.Println("gracefully shutting down undo engine...")
		return e.Close()
	})

	if err := eg.Wait(); err != nil {
		fmt.Printf("undo engine was shut down, reason: %s\n", err.Error())
	}

	return nil
}
