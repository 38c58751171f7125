package engine

import (
	"context"
	"errors"

	"YieldRounds/internal/snapshot"
	"YieldRounds/internal/state"
)

var ErrNoStorage = errors.New("engine has no persistent state")

// Snapshot exports the persisted records as a compressed snapshot.
// It runs inside the critical section so the export matches one event sequence.
func (e *Engine) Snapshot(ctx context.Context) (data []byte, info snapshot.Info, err error) {
	c, err := e.begin(ctx, "snapshot")
	if err != nil {
		return nil, snapshot.Info{}, err
	}
	defer func() { e.end(c, err) }()

	if e.store == nil {
		return nil, snapshot.Info{}, ErrNoStorage
	}

	// observe may have staged a round closure; export what the next read would see
	if c.batch.Len() > 0 {
		if err := e.store.Commit(&c.batch); err != nil {
			return nil, snapshot.Info{}, err
		}
		c.batch = state.Batch{}
	}

	seq, _ := e.chain.Head()

	raw, err := snapshot.Create(e.store.DB(), seq)
	if err != nil {
		return nil, snapshot.Info{}, err
	}

	info, err = snapshot.Verify(raw)
	if err != nil {
		return nil, snapshot.Info{}, err
	}

	data, err = snapshot.Compress(raw)
	if err != nil {
		return nil, snapshot.Info{}, err
	}

	c.log().Info("snapshot exported", "entries", info.Entries, "lastEvent", info.LastEvent, "bytes", len(data))

	return data, info, nil
}
