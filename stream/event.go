// Package stream delivers committed row changes to live subscribers under
// the same visibility rules as point-in-time reads. The filter is a thin
// wrapper over the read evaluator, never a parallel rule set, so query
// filtering and live filtering cannot drift apart.
package stream

import (
	"context"

	"github.com/classguard/classguard"
)

// Event is a committed row change with before/after images. Seq reflects
// commit order per entity; subscribers observe events for a given row in
// Seq order.
type Event struct {
	Seq    uint64
	Table  string
	Op     classguard.Op
	Before classguard.Record // committed pre-image; nil for insert
	After  classguard.Record // committed post-image; nil for delete
}

// Image returns the row image visibility is decided on: the post-image,
// except for deletes which are filtered on the pre-delete image.
func (e Event) Image() classguard.Record {
	if e.Op.Is(classguard.OpDelete) {
		return e.Before
	}
	return e.After
}

// RowID returns the identifier of the affected row.
func (e Event) RowID() string {
	if img := e.Image(); img != nil {
		return img.RecordID()
	}
	return ""
}

// Feed is an ordered source of committed events, typically backed by the
// store's outbox. Next blocks until an event is available or the context
// is done.
type Feed interface {
	Next(ctx context.Context) (Event, error)
}
