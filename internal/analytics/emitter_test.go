package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/storage/memory"
)

func event(i int) *domain.ExtractionEvent {
	return &domain.ExtractionEvent{
		EventID:    fmt.Sprintf("ev-%d", i),
		TokenID:    "tok",
		Outcome:    domain.OutcomeArchived,
		OccurredAt: time.Unix(int64(i), 0),
	}
}

func TestEmitter_FlushOnClose(t *testing.T) {
	store := memory.NewExtractionEventStore()
	e := NewEmitter(store, Config{BatchSize: 10, FlushInterval: time.Hour}, nil, nil)

	for i := 0; i < 25; i++ {
		e.Emit(event(i))
	}
	e.Close()

	assert.Equal(t, 25, store.Len())
	got, err := store.GetByToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "ev-0", got[0].EventID)
}

func TestEmitter_FlushOnInterval(t *testing.T) {
	store := memory.NewExtractionEventStore()
	e := NewEmitter(store, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, nil, nil)
	defer e.Close()

	e.Emit(event(1))
	assert.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
}

type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	n       int
}

func (s *blockingStore) InsertBulk(_ context.Context, events []*domain.ExtractionEvent) error {
	<-s.release
	s.mu.Lock()
	s.n += len(events)
	s.mu.Unlock()
	return nil
}

func (s *blockingStore) GetByToken(context.Context, string) ([]*domain.ExtractionEvent, error) {
	return nil, errors.New("not implemented")
}

func TestEmitter_EmitNeverBlocks(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	e := NewEmitter(store, Config{BufferSize: 2, BatchSize: 1, FlushInterval: time.Hour}, nil, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			e.Emit(event(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a stalled store")
	}

	close(store.release)
	e.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Less(t, store.n, 100)
}

func TestEmitter_NilAndClosed(t *testing.T) {
	var nilEmitter *Emitter
	nilEmitter.Emit(event(1))
	nilEmitter.Close()

	store := memory.NewExtractionEventStore()
	e := NewEmitter(store, DefaultConfig(), nil, nil)
	e.Close()
	e.Close()
	e.Emit(event(1))
	assert.Equal(t, 0, store.Len())
}
