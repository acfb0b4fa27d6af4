// Package vm ties the Commit Store, Contract Registry, and Session & Call
// Engine together into the top-level API an embedder drives: open a store,
// then open sessions rooted at a commit (or at genesis) to deploy and call
// contracts, per §6.
package vm

import (
	"context"
	"os"

	"github.com/georgecane/contractvm/pkg/config"
	"github.com/georgecane/contractvm/pkg/contracts"
	"github.com/georgecane/contractvm/pkg/session"
	"github.com/georgecane/contractvm/pkg/store"
	"github.com/georgecane/contractvm/pkg/types"
	"github.com/georgecane/contractvm/pkg/vmerrors"
)

// Vm owns a Commit Store and a Contract Registry and hands out Sessions
// layered on top of them.
type Vm struct {
	ctx      context.Context
	store    *store.Store
	registry *contracts.Registry
	gasCfg   config.GasConfig

	ephemeral    bool
	ephemeralDir string
}

// Open opens (or creates) a Commit Store rooted at path and a Contract
// Registry sized to gasCfg's call-depth policy.
func Open(ctx context.Context, path string, gasCfg config.GasConfig) (*Vm, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	reg, err := contracts.NewRegistry(ctx, gasCfg.MaxCallDepth)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &Vm{ctx: ctx, store: st, registry: reg, gasCfg: gasCfg}, nil
}

// Ephemeral opens a Vm backed by a throwaway temporary directory, removed
// on Close, useful for dry runs and tests that need a full Commit Store
// without persisting anything.
func Ephemeral(ctx context.Context, gasCfg config.GasConfig) (*Vm, error) {
	dir, err := os.MkdirTemp("", "contractvm-ephemeral-*")
	if err != nil {
		return nil, vmerrors.Wrap(vmerrors.StorageIO, "create ephemeral store dir", err)
	}
	v, err := Open(ctx, dir, gasCfg)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	v.ephemeral = true
	v.ephemeralDir = dir
	return v, nil
}

// Close releases the Registry's wazero runtime and the Store's index,
// removing the ephemeral directory if this Vm was opened via Ephemeral.
func (v *Vm) Close() error {
	regErr := v.registry.Close()
	storeErr := v.store.Close()
	if v.ephemeral {
		os.RemoveAll(v.ephemeralDir)
	}
	if regErr != nil {
		return regErr
	}
	return storeErr
}

// LatestRoot returns the most recently committed root, if any.
func (v *Vm) LatestRoot() (types.Hash, bool) {
	return v.store.LatestRoot()
}

// GenesisSession opens a Session with no base commit: the first session
// ever run against a fresh store, or one deliberately restarting from
// nothing.
func (v *Vm) GenesisSession(meta map[string][]byte) (*session.Session, error) {
	return session.Open(v.ctx, v.registry, v.store, v.gasCfg, types.Hash{}, false, meta)
}

// Session opens a Session layered on top of root, per §4.1: "A session is
// always opened against a specific base root". The Commit Store only
// materializes a single linear chain per contract (see DESIGN.md's
// single-chain materialization note), so root must be the store's current
// LatestRoot: any other value names a commit the store can no longer
// reconstruct, and is rejected rather than silently served against the
// newer materialized state.
func (v *Vm) Session(root types.Hash, meta map[string][]byte) (*session.Session, error) {
	latest, ok := v.store.LatestRoot()
	if !ok || root != latest {
		return nil, vmerrors.New(vmerrors.CorruptCommit, "session requested at root "+root.String()+" which is not the store's latest materialized commit")
	}
	return session.Open(v.ctx, v.registry, v.store, v.gasCfg, root, true, meta)
}

// LatestSession opens a Session rooted at the store's latest commit, or a
// genesis Session if the store has never been committed to.
func (v *Vm) LatestSession(meta map[string][]byte) (*session.Session, error) {
	root, ok := v.store.LatestRoot()
	if !ok {
		return v.GenesisSession(meta)
	}
	return v.Session(root, meta)
}
