package app

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	runtimeapp "undoengine/internal/app"
	"undoengine/internal/urs"
	"undoengine/internal/wal"
	"undoengine/pkg/common"
)

func parseType(s string) (common.Type, error) {
	switch s {
	case "transaction":
		return common.TypeTransaction, nil
	case "foo":
		return common.TypeFoo, nil
	default:
		return common.TypeInvalid, fmt.Errorf("unknown --type %q (want transaction or foo)", s)
	}
}

func parsePersistence(s string) (common.Persistence, error) {
	switch s {
	case "permanent":
		return common.Permanent, nil
	case "unlogged":
		return common.Unlogged, nil
	case "temp":
		return common.Temp, nil
	default:
		return common.Permanent, fmt.Errorf("unknown --persistence %q (want permanent, unlogged, or temp)", s)
	}
}

func initInsert() {
	var typeFlag, persistenceFlag string

	cmd := &cobra.Command{
		Use:   "insert <hex-bytes>",
		Short: "Create an undo record set, insert one record, and close it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("decode record hex: %w", err)
			}

			typ, err := parseType(typeFlag)
			if err != nil {
				return err
			}
			persistence, err := parsePersistence(persistenceFlag)
			if err != nil {
				return err
			}

			action := func(ctx context.Context, d *runtimeapp.Deps) error {
				return runInsert(d, typ, persistence, record)
			}

			return runtimeapp.Run(cmd.Context(), &runtimeapp.UndoEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
				Action:     action,
			})
		},
	}

	cmd.Flags().StringVar(&typeFlag, "type", "transaction", "undo record set type (transaction or foo)")
	cmd.Flags().StringVar(&persistenceFlag, "persistence", "permanent", "persistence level (permanent, unlogged, or temp)")

	rootCmd.AddCommand(cmd)
}

func runInsert(d *runtimeapp.Deps, typ common.Type, persistence common.Persistence, record []byte) error {
	thSize, err := urs.TypeHeaderSize(typ)
	if err != nil {
		return fmt.Errorf("look up type header size: %w", err)
	}

	u, err := d.Engine.Create(typ, persistence, 0, make([]byte, thSize))
	if err != nil {
		return fmt.Errorf("create undo record set: %w", err)
	}

	urp, err := d.Engine.PrepareInsert(u, len(record))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}

	if err := d.Engine.Insert(u, record); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	if err := flushWAL(d, u); err != nil {
		return err
	}
	if err := d.Engine.Release(u); err != nil {
		return fmt.Errorf("release insertion buffers: %w", err)
	}

	closed, err := d.Engine.PrepareClose(u)
	if err != nil {
		return fmt.Errorf("prepare close: %w", err)
	}
	if closed {
		if err := d.Engine.MarkClosed(u); err != nil {
			return fmt.Errorf("mark closed: %w", err)
		}
		if err := flushWAL(d, u); err != nil {
			return err
		}
		if err := d.Engine.Release(u); err != nil {
			return fmt.Errorf("release close buffers: %w", err)
		}
	}

	if err := d.Engine.Destroy(u); err != nil {
		return fmt.Errorf("destroy undo record set: %w", err)
	}

	d.Log.Infow("inserted undo record", "handle", u.Handle, "urp", urp, "chunks", u.Chunks().Len())
	fmt.Printf("handle=%s urp=%s chunks=%d\n", u.Handle, urp, u.Chunks().Len())
	return nil
}

// flushWAL registers whatever buf-data is currently staged on u's pinned
// buffers, writes one WAL record, and stamps the resulting LSN back onto
// those buffers. A no-op for UNLOGGED/TEMP sets: the engine stages buf-data
// for every persistence level, but only PERMANENT sets have it registered
// and written here.
func flushWAL(d *runtimeapp.Deps, u *urs.URS) error {
	if u.Persistence != common.Permanent {
		return nil
	}

	b := d.WAL.Begin(wal.RmUndo, 0)
	d.Engine.RegisterWALBuffers(u, b)
	lsn, err := d.WAL.Insert(b)
	if err != nil {
		return fmt.Errorf("write WAL record: %w", err)
	}
	d.Engine.SetLSN(u, lsn)
	return nil
}
