package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pdf-ocr-pipeline/internal/blob"
	"pdf-ocr-pipeline/internal/models"
	"pdf-ocr-pipeline/internal/ocr"
	"pdf-ocr-pipeline/internal/queue"
	"pdf-ocr-pipeline/internal/store"
)

// memStore is an in-memory JobStore with the same version check as Postgres.
type memStore struct {
	mu     sync.Mutex
	jobs   map[string]models.Job
	writes []models.Job
}

func newMemStore(jobs ...models.Job) *memStore {
	s := &memStore{jobs: make(map[string]models.Job)}
	for _, j := range jobs {
		if j.Version == 0 {
			j.Version = 1
		}
		s.jobs[j.ID] = j.Clone()
	}
	return s
}

func (s *memStore) GetJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return j.Clone(), nil
}

func (s *memStore) ReplaceJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, job.ID)
	}
	if cur.Version != job.Version {
		return fmt.Errorf("%w: %s", store.ErrConflict, job.ID)
	}
	job.Version++
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = job.Clone()
	s.writes = append(s.writes, job.Clone())
	return nil
}

func (s *memStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Version = 1
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *memStore) get(id string) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Clone()
}

// bumpVersion simulates another worker writing the record.
func (s *memStore) bumpVersion(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Version++
	s.jobs[id] = j
}

type memBlobs struct {
	mu   sync.Mutex
	docs map[string][]byte
	gets int
}

func (b *memBlobs) Get(_ context.Context, jobID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	data, ok := b.docs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, jobID)
	}
	return data, nil
}

func (b *memBlobs) Put(_ context.Context, jobID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.docs == nil {
		b.docs = make(map[string][]byte)
	}
	b.docs[jobID] = data
	return nil
}

type processFunc func(ctx context.Context, docName string, data []byte, pagesPerPart int) (*ocr.Result, error)

type fakeProcessor struct {
	fn    processFunc
	calls int
}

func (p *fakeProcessor) Process(ctx context.Context, docName string, data []byte, pagesPerPart int) (*ocr.Result, error) {
	p.calls++
	return p.fn(ctx, docName, data, pagesPerPart)
}

// listQueue serves a fixed list of messages and records deletes.
type listQueue struct {
	mu         sync.Mutex
	pending    []*queue.Message
	receiveErr []error
	deleteErr  error
	deleted    []string
}

func (q *listQueue) Receive(_ context.Context, _ time.Duration) (*queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.receiveErr) > 0 {
		err := q.receiveErr[0]
		q.receiveErr = q.receiveErr[1:]
		return nil, err
	}
	if len(q.pending) == 0 {
		return nil, nil
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, nil
}

func (q *listQueue) Delete(_ context.Context, msg *queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deleteErr != nil {
		return q.deleteErr
	}
	q.deleted = append(q.deleted, msg.ID)
	return nil
}

func (q *listQueue) Send(_ context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, &queue.Message{ID: "m-" + body, Body: body})
	return nil
}

func (q *listQueue) ReadyDepth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *listQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && len(q.receiveErr) == 0
}
