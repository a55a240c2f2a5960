package authority

import "github.com/dh7/mindcache/pkg/wire"

type turnKind int

const (
	turnAttach turnKind = iota
	turnDetach
	turnSet
	turnDelete
	turnDocUpdate
)

// turn is one unit of work serialized through an Actor's turnCh. Exactly
// one turn runs at a time per instance (spec §5: "turns do not
// interleave").
type turn struct {
	kind    turnKind
	session *Session
	set     wire.Set
	del     wire.Delete
	doc     wire.DocUpdate
	reply   chan turnResult
}

// turnResult carries the outcome of a turn back to its caller. sync is
// only populated for turnAttach.
type turnResult struct {
	err  error
	sync *wire.Sync
}
