package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"grant-workers/internal/common/database"
	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/grants"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// IndexMapping keeps ids as keywords so event history can be filtered by
// application and grant.
const IndexMapping = `{
  "mappings": {
    "properties": {
      "id":            {"type": "keyword"},
      "type":          {"type": "keyword"},
      "actor":         {"type": "keyword"},
      "workspaceId":   {"type": "long"},
      "grantId":       {"type": "keyword"},
      "applicationId": {"type": "long"},
      "milestoneId":   {"type": "integer"},
      "reason":        {"type": "text"},
      "data":          {"type": "object", "enabled": false},
      "occurredAt":    {"type": "date"}
    }
  }
}`

// ElasticsearchSink indexes events by their id, so a re-published event
// overwrites its own document.
type ElasticsearchSink struct {
	es    *database.ElasticsearchClient
	index string
}

func NewElasticsearchSink(es *database.ElasticsearchClient, index string) *ElasticsearchSink {
	return &ElasticsearchSink{es: es, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

// EnsureIndex creates the event index with IndexMapping if it is missing.
func (s *ElasticsearchSink) EnsureIndex(ctx context.Context) error {
	return s.es.EnsureIndex(ctx, s.index, IndexMapping)
}

func (s *ElasticsearchSink) Publish(ctx context.Context, events []grants.Event) error {
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}

		res, err := esapi.IndexRequest{
			Index:      s.index,
			DocumentID: ev.ID.String(),
			Body:       bytes.NewReader(body),
		}.Do(ctx, s.es.Client)
		if err != nil {
			return apperrors.NewExternalServiceError("elasticsearch", err)
		}
		if res.IsError() {
			raw, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return apperrors.NewExternalServiceError("elasticsearch",
				fmt.Errorf("index event %s: %s: %s", ev.ID, res.Status(), string(raw)))
		}
		res.Body.Close()
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source grants.Event `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// History returns the indexed events of one application, oldest first.
func (s *ElasticsearchSink) History(ctx context.Context, applicationID uint64, size int) ([]grants.Event, error) {
	if size <= 0 {
		size = 100
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"applicationId": applicationID},
		},
		"sort": []interface{}{map[string]interface{}{"occurredAt": "asc"}},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	res, err := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}.Do(ctx, s.es.Client)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, apperrors.NewExternalServiceError("elasticsearch",
			fmt.Errorf("search history of application %s: %s", strconv.FormatUint(applicationID, 10), res.Status()))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]grants.Event, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}
