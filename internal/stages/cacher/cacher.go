// Package cacher implements the metadata cacher stage: it fetches
// shared metadata documents from the dispatcher and writes them to the
// cache_row table for other stages to read. It is one of the two
// "execute-first" stages.
package cacher

import (
	"context"

	"github.com/pkbatx/edge-dispatch-agent/internal/comm"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

// DefaultDocuments names the metadata documents this agent keeps warm.
// A real deployment would source this list from config; it is fixed
// here since the document catalog itself is an external collaborator.
var DefaultDocuments = []string{"schedconfig", "ddm_endpoints"}

// New constructs the cacher stage worker.
func New(deps stage.Deps, index int, singleShot bool, stop *stopsignal.Signal) stage.Agent {
	sec := deps.Stage
	execute := func(ctx context.Context) error {
		client, err := deps.Comm.Lease(ctx)
		if err != nil {
			return err
		}
		defer deps.Comm.Release(client)

		pr, err := deps.DB.Lease(ctx)
		if err != nil {
			return err
		}
		defer deps.DB.Release(pr)

		for _, name := range DefaultDocuments {
			payload, err := client.FetchCache(ctx, name)
			if err != nil {
				if _, ok := err.(*comm.TransientRemoteError); ok {
					continue
				}
				return err
			}
			if err := pr.UpsertCacheRow(ctx, name, payload); err != nil {
				return err
			}
		}
		return nil
	}
	return stage.NewBase("cacher", index, sec.Period(), singleShot, stop, execute)
}
