package models

import uuid "github.com/google/uuid"

// Batch is an ordered, bounded run of records from a single source plus the
// offset range they cover. The batcher owns a batch until it is handed to a
// sink, which takes ownership for the duration of the write.
type Batch struct {
	// ID correlates a batch across retries, dead-letter routing and logs.
	ID       uuid.UUID
	SourceID string

	records []*Record
	size    int
}

// NewBatch creates an empty batch for a source.
func NewBatch(sourceID string) *Batch {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Batch{ID: id, SourceID: sourceID}
}

// Append adds a record to the batch. Records must arrive in offset order.
func (b *Batch) Append(r *Record) {
	b.records = append(b.records, r)
	b.size += r.Size()
}

// Records returns the batch contents in order.
func (b *Batch) Records() []*Record { return b.records }

func (b *Batch) Len() int    { return len(b.records) }
func (b *Batch) Size() int   { return b.size }
func (b *Batch) Empty() bool { return len(b.records) == 0 }

// FirstOffset is the offset of the first record, 0 for an empty batch.
func (b *Batch) FirstOffset() uint64 {
	if len(b.records) == 0 {
		return 0
	}
	return b.records[0].Offset
}

// LastOffset is the offset of the last record, 0 for an empty batch. It is
// the offset committed to the checkpoint store once the batch is
// acknowledged.
func (b *Batch) LastOffset() uint64 {
	if len(b.records) == 0 {
		return 0
	}
	return b.records[len(b.records)-1].Offset
}
