package stream

import (
	"context"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/schema"
)

// Evaluator is the read-side decision engine the filter delegates to.
// The filter adds nothing on top of it beyond pre-image selection for
// deletes and payload masking, so a change is delivered exactly when a
// direct read of the same row would return it.
type Evaluator interface {
	Evaluate(ctx context.Context, actor classguard.Actor, rec classguard.Record, op classguard.Op, columns ...string) (classguard.Decision, error)
}

// Delivery is one change as seen by a single subscriber: the masked field
// map of the affected row, never the raw record.
type Delivery struct {
	Seq    uint64
	Table  string
	Op     classguard.Op
	RowID  string
	Fields map[string]classguard.Value
}

// Filter decides per subscriber whether an event is delivered and with
// which columns.
type Filter struct {
	ev Evaluator
}

// NewFilter returns a filter over the given evaluator.
func NewFilter(ev Evaluator) *Filter {
	return &Filter{ev: ev}
}

// Apply evaluates the event for the actor. It returns the delivery and
// true when the actor may observe the change, false when the event is
// silently withheld. Deletes are decided on the pre-delete image, since
// the post-image no longer exists.
func (f *Filter) Apply(ctx context.Context, actor classguard.Actor, ev Event) (Delivery, bool, error) {
	img := ev.Image()
	if img == nil {
		return Delivery{}, false, nil
	}
	d, err := f.ev.Evaluate(ctx, actor, img, classguard.OpRead)
	if err != nil {
		return Delivery{}, false, err
	}
	if !d.Visible {
		return Delivery{}, false, nil
	}
	return Delivery{
		Seq:    ev.Seq,
		Table:  ev.Table,
		Op:     ev.Op,
		RowID:  img.RecordID(),
		Fields: schema.Mask(img, d),
	}, true, nil
}
