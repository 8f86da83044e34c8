package minikv

import (
	"context"
	"slices"

	"github.com/RichardKnop/minikv/internal/minikv"
)

// Batch collects puts and deletes that are written atomically.
type Batch struct {
	db  *DB
	ops []minikv.BatchOp
}

func (d *DB) NewBatch() *Batch {
	return &Batch{db: d}
}

// Put queues a put. Key and value are copied.
func (b *Batch) Put(key, value []byte) *Batch {
	b.ops = append(b.ops, minikv.BatchOp{
		Type:  minikv.BatchPut,
		Key:   slices.Clone(key),
		Value: append(make([]byte, 0, len(value)), value...),
	})
	return b
}

// Del queues a delete. Deleting a missing key is not an error.
func (b *Batch) Del(key []byte) *Batch {
	b.ops = append(b.ops, minikv.BatchOp{
		Type: minikv.BatchDelete,
		Key:  slices.Clone(key),
	})
	return b
}

func (b *Batch) Len() int {
	return len(b.ops)
}

func (b *Batch) Clear() *Batch {
	b.ops = b.ops[:0]
	return b
}

// Write applies the queued operations in one transaction and clears
// the batch on success.
func (b *Batch) Write(ctx context.Context) error {
	if err := b.db.db.Batch(ctx, b.ops); err != nil {
		return err
	}
	b.Clear()
	return nil
}

type BatchOp = minikv.BatchOp

const (
	BatchPut    = minikv.BatchPut
	BatchDelete = minikv.BatchDelete
)

// Batch applies ops atomically.
func (d *DB) Batch(ctx context.Context, ops ...BatchOp) error {
	return d.db.Batch(ctx, ops)
}
