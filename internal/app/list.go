package app

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"remindbot/internal/config"
	"remindbot/internal/messenger"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// ListOwner prints owner's messages straight from the store, without
// connecting to the chat platform.
func ListOwner(ctx context.Context, cfgPath, owner string, w io.Writer) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return writeListing(ctx, store, owner, w)
}

func writeListing(ctx context.Context, store storage.Store, owner string, w io.Writer) error {
	recs, err := store.LookupByOwner(ctx, owner)
	if err != nil {
		return errors.Wrapf(err, "list %s", owner)
	}
	for _, r := range recs {
		if _, err := io.WriteString(w, messenger.FormatLine(r)+"\n"); err != nil {
			return err
		}
	}
	return nil
}
