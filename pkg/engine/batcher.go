package engine

import (
	"context"
	"sync"
	"time"
)

// DeliveryFunc observes the outcome of one batch delivery. err is nil when
// the transport accepted the batch.
type DeliveryFunc func(jobID string, seq uint64, artifacts int, err error)

// Batcher converts per-job artifact streams into bounded batches and pushes
// finished batches to the transport. Batching is count-based and per-job;
// artifacts from different jobs never share a batch. Artifact order from a
// single extractor call is preserved inside its batch.
type Batcher struct {
	transport  Transport
	defaultMax int
	onDelivery DeliveryFunc

	mu      sync.Mutex
	buffers map[string]*jobBuffer
}

// jobBuffer is the in-flight batch of one job. The buffer mutex is held
// only while cutting batches, never across a transport send.
type jobBuffer struct {
	mu      sync.Mutex
	jobID   string
	max     int
	pending []Artifact
	nextSeq uint64
}

// NewBatcher creates a batcher that emits batches of up to defaultMax
// artifacts to the given transport. Per-job sizes are set with Open.
func NewBatcher(transport Transport, defaultMax int, onDelivery DeliveryFunc) *Batcher {
	if defaultMax <= 0 {
		defaultMax = 100
	}
	return &Batcher{
		transport:  transport,
		defaultMax: defaultMax,
		onDelivery: onDelivery,
		buffers:    make(map[string]*jobBuffer),
	}
}

// Open prepares the per-job buffer with the job's batch size. A size of
// zero falls back to the batcher default.
func (b *Batcher) Open(jobID string, size int) {
	if size <= 0 {
		size = b.defaultMax
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.buffers[jobID]; !exists {
		b.buffers[jobID] = &jobBuffer{jobID: jobID, max: size, nextSeq: 1}
	}
}

// Accept appends artifacts to the job's in-flight batch and emits every
// batch that reaches the configured size. Emission is synchronous; the
// delivery outcome of each emitted batch is reported through the
// DeliveryFunc, and a failed delivery does not stop the stream.
func (b *Batcher) Accept(ctx context.Context, jobID string, artifacts []Artifact) {
	if len(artifacts) == 0 {
		return
	}
	buf := b.buffer(jobID)
	for _, full := range buf.add(artifacts) {
		b.deliver(ctx, full)
	}
}

// Flush emits whatever is buffered for the job, even below the size
// threshold, and discards the per-job buffer. Called when a job's
// extraction phase completes or the job is cancelled.
func (b *Batcher) Flush(ctx context.Context, jobID string) {
	b.mu.Lock()
	buf, exists := b.buffers[jobID]
	delete(b.buffers, jobID)
	b.mu.Unlock()
	if !exists {
		return
	}

	if remainder := buf.cutRemainder(); remainder != nil {
		b.deliver(ctx, remainder)
	}
}

// Buffered returns the number of artifacts currently buffered for a job.
func (b *Batcher) Buffered(jobID string) int {
	b.mu.Lock()
	buf, exists := b.buffers[jobID]
	b.mu.Unlock()
	if !exists {
		return 0
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return len(buf.pending)
}

func (b *Batcher) buffer(jobID string) *jobBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, exists := b.buffers[jobID]
	if !exists {
		buf = &jobBuffer{jobID: jobID, max: b.defaultMax, nextSeq: 1}
		b.buffers[jobID] = buf
	}
	return buf
}

func (b *Batcher) deliver(ctx context.Context, batch *Batch) {
	err := b.transport.Send(ctx, batch)
	if b.onDelivery != nil {
		b.onDelivery(batch.JobID, batch.Seq, len(batch.Artifacts), err)
	}
}

// add appends artifacts and cuts every full batch under the buffer lock.
// Batches carry their sequence number from the moment they are cut, so
// concurrent sends cannot reuse one.
func (buf *jobBuffer) add(artifacts []Artifact) []*Batch {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	buf.pending = append(buf.pending, artifacts...)

	var full []*Batch
	for len(buf.pending) >= buf.max {
		cut := make([]Artifact, buf.max)
		copy(cut, buf.pending[:buf.max])
		buf.pending = buf.pending[buf.max:]
		full = append(full, &Batch{
			JobID:     buf.jobID,
			Seq:       buf.nextSeq,
			Artifacts: cut,
			CreatedAt: time.Now().UTC(),
		})
		buf.nextSeq++
	}
	return full
}

// cutRemainder cuts the below-threshold remainder as a final batch.
func (buf *jobBuffer) cutRemainder() *Batch {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	if len(buf.pending) == 0 {
		return nil
	}
	cut := buf.pending
	buf.pending = nil
	batch := &Batch{
		JobID:     buf.jobID,
		Seq:       buf.nextSeq,
		Artifacts: cut,
		CreatedAt: time.Now().UTC(),
	}
	buf.nextSeq++
	return batch
}
