package stream

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/schema"
)

// wireEvent is the outbox encoding of a committed change. Row images
// travel as field maps so the payload stays self-describing across
// schema additions.
type wireEvent struct {
	Seq    uint64                          `msgpack:"seq"`
	Table  string                          `msgpack:"table"`
	Op     uint8                           `msgpack:"op"`
	Before map[string]classguard.Value     `msgpack:"before,omitempty"`
	After  map[string]classguard.Value     `msgpack:"after,omitempty"`
}

// EncodeEvent serializes an event for the outbox.
func EncodeEvent(ev Event) ([]byte, error) {
	w := wireEvent{
		Seq:    ev.Seq,
		Table:  ev.Table,
		Op:     uint8(ev.Op),
		Before: schema.Fields(ev.Before),
		After:  schema.Fields(ev.After),
	}
	data, err := msgpack.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("classguard/stream: encode event: %w", err)
	}
	return data, nil
}

// DecodeEvent deserializes an outbox payload back into a typed event.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("classguard/stream: decode event: %w", err)
	}
	ev := Event{Seq: w.Seq, Table: w.Table, Op: classguard.Op(w.Op)}
	if w.Before != nil {
		rec, err := schema.Decode(w.Table, w.Before)
		if err != nil {
			return Event{}, err
		}
		ev.Before = rec
	}
	if w.After != nil {
		rec, err := schema.Decode(w.Table, w.After)
		if err != nil {
			return Event{}, err
		}
		ev.After = rec
	}
	return ev, nil
}
