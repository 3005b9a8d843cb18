// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/absmach/fluxpub/core"
	"github.com/absmach/fluxpub/keyexpr"
	"github.com/absmach/fluxpub/session"
)

// Subscriber is the part of a session a store attaches to.
type Subscriber interface {
	Subscribe(key keyexpr.KeyExpr, handler session.Handler) (uint64, error)
	Unsubscribe(id uint64)
}

// Attach feeds store with every sample whose key intersects key, local and
// remote alike. The returned function detaches the store; it does not close
// it. Store errors are logged, never propagated to the publisher.
func Attach(sub Subscriber, key keyexpr.KeyExpr, store Store, logger *slog.Logger) (func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	id, err := sub.Subscribe(key, func(s core.Sample) {
		apply(store, s, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("attach storage on %s: %w", key, err)
	}

	logger.Info("storage_attached", slog.String("key_expr", key.String()))
	return func() {
		sub.Unsubscribe(id)
		logger.Info("storage_detached", slog.String("key_expr", key.String()))
	}, nil
}

func apply(store Store, s core.Sample, logger *slog.Logger) {
	ctx := context.Background()

	var err error
	switch s.Kind {
	case core.Delete:
		err = store.Delete(ctx, s.KeyExpr, s.Timestamp)
	default:
		err = store.Put(ctx, Entry{
			KeyExpr:   s.KeyExpr,
			Payload:   s.Value.Bytes(),
			Encoding:  s.Value.Encoding,
			Timestamp: s.Timestamp,
		})
	}
	if err != nil {
		logger.Error("storage_apply_failed",
			slog.String("key_expr", s.KeyExpr),
			slog.String("kind", s.Kind.String()),
			slog.String("error", err.Error()))
	}
}
