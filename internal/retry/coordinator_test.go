package retry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-nft-archiver/internal/archive"
	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/extract"
	"xrpl-nft-archiver/internal/identity"
	"xrpl-nft-archiver/internal/pipeline"
	"xrpl-nft-archiver/internal/storage"
	"xrpl-nft-archiver/internal/storage/memory"
)

const tokenID = "000803E8CEC1EB1B331D8A55E39D451DE8E13F59CF5509D5B34D5959000002BD"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func mintJSON(result, uri string) string {
	return fmt.Sprintf(`{"Account":"rMinter","TransactionType":"NFTokenMint","URI":%q,"hash":"ABC","meta":{"TransactionResult":%q,"AffectedNodes":[{"CreatedNode":{"LedgerEntryType":"NFTokenPage","NewFields":{"NFTokens":[{"NFToken":{"NFTokenID":%q}}]}}}]}}`,
		uri, result, tokenID)
}

func hexOf(s string) string {
	return hex.EncodeToString([]byte(s))
}

type mapFetcher struct {
	mu      sync.Mutex
	results map[string]*domain.FetchResult
}

func (m *mapFetcher) Fetch(_ context.Context, pointer string, _ http.Header) (*domain.FetchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[pointer], nil
}

func (m *mapFetcher) set(pointer string, res *domain.FetchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[pointer] = res
}

type lookupTokens map[string]string

func (l lookupTokens) LookupURI(_ context.Context, id string) (string, error) {
	uri, ok := l[id]
	if !ok {
		return "", errors.New("token not indexed")
	}
	return uri, nil
}

type harness struct {
	coord    *Coordinator
	failures *memory.ObjectStore
	archive  *memory.ObjectStore
	fetcher  *mapFetcher
}

func newHarness(tokens lookupTokens) *harness {
	h := &harness{
		failures: memory.NewObjectStore(),
		archive:  memory.NewObjectStore(),
		fetcher:  &mapFetcher{results: map[string]*domain.FetchResult{}},
	}
	writer := archive.NewWriter(h.archive)
	var lookup identity.TokenLookup
	if tokens != nil {
		lookup = tokens
	}
	p := pipeline.New(identity.NewResolver(nil, lookup, identity.DefaultConfig()), extract.New(h.fetcher, writer))
	h.coord = NewCoordinator(h.failures, p, DefaultConfig(),
		WithMetadataProber(writer),
		WithClock(func() time.Time { return fixedNow }),
	)
	return h
}

func (h *harness) record(t *testing.T, key string) domain.FailureRecord {
	t.Helper()
	body, err := h.failures.Get(context.Background(), key)
	require.NoError(t, err, key)
	var rec domain.FailureRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	return rec
}

func (h *harness) exists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := h.failures.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

var metaBody = &domain.FetchResult{Body: []byte(`{"name":"n"}`), ContentType: "application/json"}

func TestHandleMint_Success(t *testing.T) {
	h := newHarness(nil)
	h.fetcher.set("ipfs://QmMeta", metaBody)
	ev, err := domain.DecodeLedgerEvent([]byte(mintJSON("tesSUCCESS", hexOf("QmMeta"))))
	require.NoError(t, err)

	res, err := h.coord.HandleMint(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeArchived, res.Outcome)
	assert.Equal(t, 0, h.failures.Len())
}

func TestHandleMint_FailureRecorded(t *testing.T) {
	h := newHarness(nil)
	raw := mintJSON("tesSUCCESS", hexOf("QmMissing"))
	ev, err := domain.DecodeLedgerEvent([]byte(raw))
	require.NoError(t, err)

	res, err := h.coord.HandleMint(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)

	rec := h.record(t, "notfound/"+tokenID+".json")
	assert.Equal(t, domain.StatePending, rec.State)
	assert.Equal(t, domain.OriginPipeline, rec.Origin)
	assert.Equal(t, tokenID, rec.TokenID)
	assert.Equal(t, "ipfs://QmMissing", rec.URI)
	assert.Contains(t, rec.Error, "no metadata found")
	assert.NotEmpty(t, rec.Stack)
	assert.JSONEq(t, raw, string(rec.Payload))
	assert.Equal(t, 0, rec.Attempts)
	assert.True(t, fixedNow.Equal(rec.UpdatedAt))
}

func TestHandleMint_TerminalNotRecorded(t *testing.T) {
	h := newHarness(nil)
	ev, err := domain.DecodeLedgerEvent([]byte(mintJSON("tecNO_ENTRY", hexOf("QmMeta"))))
	require.NoError(t, err)

	res, err := h.coord.HandleMint(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoIdentity, res.Outcome)
	assert.Equal(t, 0, h.failures.Len())
}

func TestReplay_PendingSucceeds(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	ev, err := domain.DecodeLedgerEvent([]byte(mintJSON("tesSUCCESS", hexOf("QmLate"))))
	require.NoError(t, err)
	_, err = h.coord.HandleMint(ctx, ev)
	require.NoError(t, err)

	h.fetcher.set("ipfs://QmLate", metaBody)
	rec, err := h.coord.Replay(ctx, "notfound/"+tokenID+".json")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, rec.State)

	assert.False(t, h.exists(t, "notfound/"+tokenID+".json"))
	done := h.record(t, "done/"+tokenID+".json")
	assert.Equal(t, 1, done.Attempts)
	assert.Empty(t, done.Error)
	assert.Empty(t, done.Stack)
	assert.Equal(t, "ipfs://QmLate", done.URI)

	ok, err := h.archive.Exists(ctx, archive.MetadataKeys(tokenID)[1])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplay_PendingStillFails(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	ev, err := domain.DecodeLedgerEvent([]byte(mintJSON("tesSUCCESS", hexOf("QmGone"))))
	require.NoError(t, err)
	_, err = h.coord.HandleMint(ctx, ev)
	require.NoError(t, err)

	rec, err := h.coord.Replay(ctx, "notfound/"+tokenID+".json")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, rec.State)

	assert.False(t, h.exists(t, "notfound/"+tokenID+".json"))
	failed := h.record(t, "error/"+tokenID+".json")
	assert.Contains(t, failed.Error, "no metadata found")
	assert.NotEmpty(t, failed.Stack)
	assert.NotEmpty(t, failed.Payload)
	assert.Equal(t, 1, failed.Attempts)

	// A second failing replay stays in error/.
	rec, err = h.coord.Replay(ctx, "error/"+tokenID+".json")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Equal(t, 2, h.record(t, "error/"+tokenID+".json").Attempts)

	// Then recovers.
	h.fetcher.set("ipfs://QmGone", metaBody)
	rec, err = h.coord.Replay(ctx, "error/"+tokenID+".json")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, rec.State)
	assert.False(t, h.exists(t, "error/"+tokenID+".json"))
	assert.True(t, h.exists(t, "done/"+tokenID+".json"))
}

func TestReplay_StopsAtMaxAttempts(t *testing.T) {
	h := newHarness(nil)
	h.coord.config.MaxAttempts = 3
	ctx := context.Background()
	ev, err := domain.DecodeLedgerEvent([]byte(mintJSON("tesSUCCESS", hexOf("QmBroken"))))
	require.NoError(t, err)
	_, err = h.coord.HandleMint(ctx, ev)
	require.NoError(t, err)

	_, err = h.coord.Replay(ctx, "notfound/"+tokenID+".json")
	require.NoError(t, err)
	for range 2 {
		_, err = h.coord.Replay(ctx, "error/"+tokenID+".json")
		require.NoError(t, err)
	}
	capped := h.record(t, "error/"+tokenID+".json")
	require.Equal(t, 3, capped.Attempts)

	// Further notifications for the same key neither run nor rewrite it.
	for range 3 {
		rec, err := h.coord.Replay(ctx, "error/"+tokenID+".json")
		require.ErrorIs(t, err, ErrAttemptsExhausted)
		require.NotNil(t, rec)
		assert.Equal(t, 3, rec.Attempts)
	}
	assert.Equal(t, capped, h.record(t, "error/"+tokenID+".json"))

	// A fresh mint failure for the token still lands in notfound/.
	_, err = h.coord.HandleMint(ctx, ev)
	require.NoError(t, err)
	assert.True(t, h.exists(t, "notfound/"+tokenID+".json"))
}

func TestReplay_ZeroMaxAttemptsIsUnlimited(t *testing.T) {
	h := newHarness(nil)
	h.coord.config.MaxAttempts = 0
	ctx := context.Background()
	body, err := json.Marshal(domain.FailureRecord{
		State: domain.StateFailed, Origin: domain.OriginPipeline, TokenID: tokenID, Attempts: 50,
	})
	require.NoError(t, err)
	require.NoError(t, h.failures.Put(ctx, "error/"+tokenID+".json", body, "application/json"))

	rec, err := h.coord.Replay(ctx, "error/"+tokenID+".json")
	require.NoError(t, err)
	assert.Equal(t, 51, rec.Attempts)
}

func TestReplay_LegacyBarePayload(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	h.fetcher.set("ipfs://QmLegacy", metaBody)
	require.NoError(t, h.failures.Put(ctx, "notfound/"+tokenID+".json",
		[]byte(mintJSON("tesSUCCESS", hexOf("QmLegacy"))), "application/json"))

	rec, err := h.coord.Replay(ctx, "notfound/"+tokenID+".json")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, rec.State)
	assert.True(t, h.exists(t, "done/"+tokenID+".json"))
}

func TestReplay_UndecodablePayloadLandsInError(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	require.NoError(t, h.failures.Put(ctx, "notfound/TOK.json", []byte("not json"), "text/plain"))

	rec, err := h.coord.Replay(ctx, "notfound/TOK.json")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.False(t, h.exists(t, "notfound/TOK.json"))

	failed := h.record(t, "error/TOK.json")
	assert.Equal(t, "TOK", failed.TokenID)
	assert.JSONEq(t, `"not json"`, string(failed.Payload))
}

func TestReplay_InvalidKeys(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	_, err := h.coord.Replay(ctx, "done/"+tokenID+".json")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = h.coord.Replay(ctx, "assets/metadata/x")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = h.coord.Replay(ctx, "notfound/missing.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type panicRunner struct{}

func (panicRunner) Run(context.Context, pipeline.Job) (*pipeline.Result, error) {
	panic("decoder exploded")
}

func TestReplay_PanicRecorded(t *testing.T) {
	failures := memory.NewObjectStore()
	coord := NewCoordinator(failures, panicRunner{}, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, failures.Put(ctx, "notfound/TOK.json", []byte(`{"state":"notfound","token_id":"TOK","payload":{"NFTokenID":"TOK"}}`), "application/json"))

	rec, err := coord.Replay(ctx, "notfound/TOK.json")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Contains(t, rec.Error, "panic: decoder exploded")
	assert.True(t, strings.Contains(rec.Stack, "goroutine"))
}

func TestReplayPublic(t *testing.T) {
	h := newHarness(lookupTokens{tokenID: hexOf("QmPublic")})
	ctx := context.Background()

	rec, err := h.coord.ReplayPublic(ctx, tokenID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Equal(t, domain.OriginPublic, rec.Origin)
	assert.True(t, h.exists(t, "public/error/"+tokenID+".json"))

	h.fetcher.set("ipfs://QmPublic", metaBody)
	rec, err = h.coord.ReplayPublic(ctx, tokenID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, rec.State)
	assert.False(t, h.exists(t, "public/error/"+tokenID+".json"))
	assert.Equal(t, 2, h.record(t, "public/done/"+tokenID+".json").Attempts)

	// Done is never demoted.
	h.fetcher.set("ipfs://QmPublic", nil)
	_, err = h.coord.ReplayPublic(ctx, tokenID)
	var transitionErr *domain.ErrInvalidTransition
	assert.ErrorAs(t, err, &transitionErr)
	assert.True(t, h.exists(t, "public/done/"+tokenID+".json"))
	assert.False(t, h.exists(t, "public/error/"+tokenID+".json"))

	_, err = h.coord.ReplayPublic(ctx, "")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestReplayPublic_DoneIsIdempotent(t *testing.T) {
	h := newHarness(lookupTokens{tokenID: hexOf("QmPublic")})
	h.fetcher.set("ipfs://QmPublic", metaBody)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rec, err := h.coord.ReplayPublic(ctx, tokenID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateDone, rec.State)
	}
	assert.Equal(t, 1, h.failures.Len())
}
