package storage

import "errors"

var ErrOverlayClosed = errors.New("storage: overlay already committed or discarded")

// Overlay buffers writes on top of a parent Database. Reads see buffered
// writes first. Nothing reaches the parent until Commit.
type Overlay struct {
	parent Database
	writes map[string][]byte
	closed bool
}

// NewOverlay starts a write buffer over parent.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{parent: parent, writes: make(map[string][]byte)}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	if o.closed {
		return ErrOverlayClosed
	}
	// A nil entry marks a delete, so store a non-nil copy.
	buf := make([]byte, len(value))
	copy(buf, value)
	o.writes[string(key)] = buf
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if o.closed {
		return nil, ErrOverlayClosed
	}
	if v, ok := o.writes[string(key)]; ok {
		if v == nil {
			return nil, ErrNotFound
		}
		return append([]byte(nil), v...), nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	if o.closed {
		return ErrOverlayClosed
	}
	o.writes[string(key)] = nil
	return nil
}

// Pending returns the number of buffered writes.
func (o *Overlay) Pending() int { return len(o.writes) }

// Commit flushes the buffered writes to the parent, atomically when the
// parent implements Batcher.
func (o *Overlay) Commit() error {
	if o.closed {
		return ErrOverlayClosed
	}
	o.closed = true
	if b, ok := o.parent.(Batcher); ok {
		return b.WriteBatch(o.writes)
	}
	for _, k := range sortedKeys(o.writes) {
		var err error
		if v := o.writes[k]; v == nil {
			err = o.parent.Delete([]byte(k))
		} else {
			err = o.parent.Put([]byte(k), v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Discard drops every buffered write.
func (o *Overlay) Discard() {
	o.closed = true
	o.writes = nil
}

// Close discards the overlay; the parent stays open.
func (o *Overlay) Close() { o.Discard() }
