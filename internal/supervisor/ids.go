package supervisor

import (
	"strconv"
	"sync/atomic"
)

// idGenerator produces unique-enough message IDs for Cmd envelopes; the
// Supervisor never waits for a per-command reply (Status/Hit/Log are
// independent streams, not RPC responses), so these only need to be
// distinguishable in logs, not globally unique.
type idGenerator struct {
	n atomic.Uint64
}

func newIDGenerator() *idGenerator { return &idGenerator{} }

func (g *idGenerator) next() string {
	return "cmd-" + strconv.FormatUint(g.n.Add(1), 10)
}
