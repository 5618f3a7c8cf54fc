package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"grant-workers/internal/common/config"
	"grant-workers/internal/common/database"
	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/grants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeES struct {
	mu      sync.Mutex
	docs    map[string]json.RawMessage
	created bool
	fail    bool
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/grant-events":
		if f.created {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/grant-events":
		f.created = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/grant-events/_doc/"):
		if f.fail {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.docs[strings.TrimPrefix(r.URL.Path, "/grant-events/_doc/")] = body
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	case strings.HasSuffix(r.URL.Path, "/_search"):
		hits := make([]map[string]json.RawMessage, 0, len(f.docs))
		for _, doc := range f.docs {
			hits = append(hits, map[string]json.RawMessage{"_source": doc})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"hits": map[string]interface{}{"hits": hits}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newESSink(t *testing.T) (*ElasticsearchSink, *fakeES) {
	t.Helper()
	fake := &fakeES{docs: map[string]json.RawMessage{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	es, err := database.NewElasticsearch(config.ElasticsearchConfig{URL: srv.URL})
	require.NoError(t, err)
	return NewElasticsearchSink(es, "grant-events"), fake
}

func TestElasticsearchSink_EnsureIndex(t *testing.T) {
	sink, fake := newESSink(t)
	require.NoError(t, sink.EnsureIndex(context.Background()))
	assert.True(t, fake.created)
	require.NoError(t, sink.EnsureIndex(context.Background()))
}

func TestElasticsearchSink_PublishIndexesByEventID(t *testing.T) {
	sink, fake := newESSink(t)
	events := sampleEvents()

	require.NoError(t, sink.Publish(context.Background(), events))
	require.NoError(t, sink.Publish(context.Background(), events[:1]))

	require.Len(t, fake.docs, 2)
	var stored grants.Event
	require.NoError(t, json.Unmarshal(fake.docs[events[0].ID.String()], &stored))
	assert.Equal(t, grants.EventMilestoneApproved, stored.Type)
	assert.Equal(t, uint64(4), *stored.ApplicationID)
}

func TestElasticsearchSink_PublishError(t *testing.T) {
	sink, fake := newESSink(t)
	fake.fail = true

	err := sink.Publish(context.Background(), sampleEvents())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeExternalService, apperrors.Normalize(err).Code)
}

func TestElasticsearchSink_History(t *testing.T) {
	sink, _ := newESSink(t)
	events := sampleEvents()[:1]
	require.NoError(t, sink.Publish(context.Background(), events))

	history, err := sink.History(context.Background(), 4, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, events[0].ID, history[0].ID)
}
