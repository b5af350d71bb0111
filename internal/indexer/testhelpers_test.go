package indexer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/corpusd/internal/corpus"
)

// fakeProvider returns deterministic unit vectors and records batch sizes.
type fakeProvider struct {
	mu          sync.Mutex
	available   bool
	dimension   int
	batchSizes  []int
	failOnText  string
	totalEmbeds int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{available: true, dimension: 3}
}

func (p *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchSizes = append(p.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if p.failOnText != "" && text == p.failOnText {
			return nil, fmt.Errorf("embed failure on %q", text)
		}
		out[i] = []float32{float32(len(text)), 1, 0}
		p.totalEmbeds++
	}
	return out, nil
}

func (p *fakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *fakeProvider) Available() bool { return p.available }
func (p *fakeProvider) Dimension() int  { return p.dimension }

// fakeChunkStore records rows in memory keyed by (userID, docID).
type fakeChunkStore struct {
	mu          sync.Mutex
	rows        map[string][]corpus.ChunkRow
	insertSizes []int
	deletes     []string
	failDocID   string
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{rows: make(map[string][]corpus.ChunkRow)}
}

func chunkKey(userID, docID string) string { return userID + "/" + docID }

func (s *fakeChunkStore) DeleteChunks(_ context.Context, userID, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chunkKey(userID, docID)
	s.deletes = append(s.deletes, key)
	delete(s.rows, key)
	return nil
}

func (s *fakeChunkStore) InsertChunks(_ context.Context, rows []corpus.ChunkRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertSizes = append(s.insertSizes, len(rows))
	for _, row := range rows {
		if s.failDocID != "" && row.DocID == s.failDocID {
			return fmt.Errorf("%w: insert failure on %s", corpus.ErrStore, row.DocID)
		}
		key := chunkKey(row.UserID, row.DocID)
		s.rows[key] = append(s.rows[key], row)
	}
	return nil
}

func (s *fakeChunkStore) SimilaritySearch(context.Context, []float32, int, []corpus.Scope) ([]corpus.Match, error) {
	return nil, nil
}

func (s *fakeChunkStore) Close() error { return nil }

func (s *fakeChunkStore) chunkCount(userID, docID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[chunkKey(userID, docID)])
}

// fakeDocStore serves a fixed document set with the same ordering and
// filtering contract as the real store.
type fakeDocStore struct {
	mu       sync.Mutex
	docs     map[string]corpus.Document
	pageSize int
	lists    int
}

func newFakeDocStore(docs ...corpus.Document) *fakeDocStore {
	s := &fakeDocStore{docs: make(map[string]corpus.Document)}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeDocStore) put(d corpus.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[d.ID] = d
}

func (s *fakeDocStore) List(_ context.Context, scopes []corpus.Scope, updatedAfter *time.Time, pageSize int, cursor string) ([]corpus.Document, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.pageSize > 0 && s.pageSize < pageSize {
		pageSize = s.pageSize
	}

	inScope := make(map[corpus.Scope]bool, len(scopes))
	for _, sc := range scopes {
		inScope[sc] = true
	}

	var all []corpus.Document
	for _, d := range s.docs {
		if !inScope[d.Scope] {
			continue
		}
		if updatedAfter != nil && d.UpdatedAt.Before(*updatedAfter) {
			continue
		}
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.Before(all[j].UpdatedAt)
		}
		return all[i].ID < all[j].ID
	})

	start := 0
	if cursor != "" {
		for i, d := range all {
			if d.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := min(start+pageSize, len(all))
	page := all[start:end]

	next := ""
	if end < len(all) && len(page) > 0 {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

func (s *fakeDocStore) GetByIDs(_ context.Context, ids []string) ([]corpus.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []corpus.Document
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// memWatermarks is an in-memory corpus.WatermarkStore.
type memWatermarks struct {
	mu   sync.Mutex
	byID map[string]corpus.Watermark
	sets int
}

func newMemWatermarks() *memWatermarks {
	return &memWatermarks{byID: make(map[string]corpus.Watermark)}
}

func (m *memWatermarks) Get(_ context.Context, userID string) (*corpus.Watermark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wm, ok := m.byID[userID]
	if !ok {
		return nil, nil
	}
	return &wm, nil
}

func (m *memWatermarks) Set(_ context.Context, userID string, wm corpus.Watermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[userID] = wm
	m.sets++
	return nil
}
