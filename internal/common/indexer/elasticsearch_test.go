package indexer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type esRecorder struct {
	mu       sync.Mutex
	requests []string
	bulk     []byte
}

func createTestCluster(t *testing.T) (*httptest.Server, *esRecorder) {
	rec := &esRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.requests = append(rec.requests, r.Method+" "+r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/_bulk") {
			rec.bulk = body
		}
		rec.mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/":
			_, _ = w.Write([]byte(`{"version":{"number":"8.19.1"},"tagline":"You Know, for Search"}`))
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"result":"not_found"}`))
		default:
			_, _ = w.Write([]byte(`{"result":"updated"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func createTestMirror(t *testing.T) (*SearchMirror, *MemoryStore, *esRecorder) {
	srv, rec := createTestCluster(t)
	store := NewMemoryStore(func() time.Time { return now })
	mirror, err := NewSearchMirror(store, []string{srv.URL}, "test-listings", nil, logger.NewTestLogger(t))
	require.NoError(t, err)
	return mirror, store, rec
}

func TestSearchMirror_InsertIndexesDocuments(t *testing.T) {
	mirror, store, rec := createTestMirror(t)
	ctx := context.Background()

	res, err := mirror.InsertListings(ctx, "user-1", sampleListings())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	rows, err := store.GetListings(ctx, "user-1", ListFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rec.mu.Lock()
	bulk := rec.bulk
	rec.mu.Unlock()
	var lines []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(bulk))
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 4)
	meta := lines[0]["index"].(map[string]interface{})
	assert.Equal(t, "test-listings", meta["_index"])
	assert.Equal(t, DocumentID("user-1", "https://www.pap.fr/annonces/r1"), meta["_id"])
	assert.Equal(t, "user-1", lines[1]["user_id"])
	assert.Equal(t, "Studio Paris 17e", lines[1]["title"])
}

func TestSearchMirror_StoreStaysAuthoritative(t *testing.T) {
	mirror, store, rec := createTestMirror(t)
	ctx := context.Background()
	_, err := mirror.InsertListings(ctx, "u", sampleListings())
	require.NoError(t, err)

	require.NoError(t, mirror.UpdateListingStatus(ctx, "u", "https://www.pap.fr/annonces/r1", domain.StatusReplied))
	// the mirror answers 404 on delete, which is ignored
	require.NoError(t, mirror.DeleteListing(ctx, "u", "https://www.paruvendu.fr/a/9"))

	rows, err := store.GetListings(ctx, "u", ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.StatusReplied, rows[0].Status)

	assert.ErrorIs(t, mirror.DeleteListing(ctx, "u", "https://nope.fr/x"), ErrListingNotFound)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.requests, "POST /test-listings/_update/"+DocumentID("u", "https://www.pap.fr/annonces/r1"))
	assert.Contains(t, rec.requests, "DELETE /test-listings/_doc/"+DocumentID("u", "https://www.paruvendu.fr/a/9"))
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, DocumentID("a", "b"), DocumentID("a", "b"))
	assert.NotEqual(t, DocumentID("a", "b"), DocumentID("ab", ""))
	assert.Len(t, DocumentID("a", "b"), 32)
}

func TestSearchMirror_EnsureIndexKeepsExisting(t *testing.T) {
	mirror, _, rec := createTestMirror(t)
	require.NoError(t, mirror.EnsureIndex(context.Background()))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.requests, "HEAD /test-listings")
	assert.NotContains(t, rec.requests, "PUT /test-listings")
}
