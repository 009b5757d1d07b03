package indexer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

// SearchMirror copies every stored listing into Elasticsearch for full-text
// search. The wrapped Store stays authoritative: mirror failures are logged
// and never fail the write.
type SearchMirror struct {
	Store
	client    *elasticsearch.Client
	indexName string
	log       logger.Logger
}

// searchDoc is the indexed form of a stored listing
type searchDoc struct {
	UserID string `json:"user_id"`
	domain.Listing
	Status domain.ListingStatus `json:"status,omitempty"`
}

// NewSearchMirror wraps store and checks the cluster is reachable
func NewSearchMirror(store Store, addresses []string, indexName string, transport http.RoundTripper, log logger.Logger) (*SearchMirror, error) {
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Transport: transport,
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create es client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("es info: %w", err)
	}
	info.Body.Close()
	if info.IsError() {
		return nil, fmt.Errorf("es info: %s", info.Status())
	}

	if indexName == "" {
		indexName = "listings"
	}
	return &SearchMirror{
		Store:     store,
		client:    client,
		indexName: indexName,
		log:       logger.OrNop(log).WithFields(map[string]interface{}{"component": "search_mirror"}),
	}, nil
}

// InsertListings stores listings then bulk-indexes them
func (m *SearchMirror) InsertListings(ctx context.Context, userID string, listings []domain.Listing) (InsertResult, error) {
	res, err := m.Store.InsertListings(ctx, userID, listings)
	if err != nil {
		return res, err
	}
	if err := m.bulkIndex(ctx, userID, listings); err != nil {
		m.log.Warn("search mirror bulk index failed", map[string]interface{}{"user_id": userID, "error": err.Error()})
	}
	return res, nil
}

// UpdateListingStatus updates the status in the store and in the index
func (m *SearchMirror) UpdateListingStatus(ctx context.Context, userID, url string, status domain.ListingStatus) error {
	if err := m.Store.UpdateListingStatus(ctx, userID, url, status); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]interface{}{"doc": map[string]interface{}{"status": status}})
	req := esapi.UpdateRequest{
		Index:      m.indexName,
		DocumentID: DocumentID(userID, url),
		Body:       bytes.NewReader(body),
	}
	m.do(ctx, req, "update status")
	return nil
}

// DeleteListing deletes from the store and from the index
func (m *SearchMirror) DeleteListing(ctx context.Context, userID, url string) error {
	if err := m.Store.DeleteListing(ctx, userID, url); err != nil {
		return err
	}
	req := esapi.DeleteRequest{
		Index:      m.indexName,
		DocumentID: DocumentID(userID, url),
	}
	m.do(ctx, req, "delete")
	return nil
}

func (m *SearchMirror) do(ctx context.Context, req esapi.Request, op string) {
	res, err := req.Do(ctx, m.client)
	if err != nil {
		m.log.Warn("search mirror request failed", map[string]interface{}{"op": op, "error": err.Error()})
		return
	}
	defer res.Body.Close()
	// A document missing from the mirror is not an error
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		m.log.Warn("search mirror error", map[string]interface{}{"op": op, "status": res.Status()})
	}
}

// DocumentID is the mirror id of (user, url)
func DocumentID(userID, url string) string {
	h := sha256.Sum256([]byte(userID + "\x00" + url))
	return hex.EncodeToString(h[:16])
}

type bulkAction struct {
	Index bulkTarget `json:"index"`
}

type bulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// bulkResponse keeps the per-item outcome of a _bulk call
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"index"`
	} `json:"items"`
}

func (m *SearchMirror) bulkIndex(ctx context.Context, userID string, listings []domain.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	// NDJSON: one action line then one document line per listing.
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, l := range listings {
		doc, err := json.Marshal(searchDoc{UserID: userID, Listing: l})
		if err != nil {
			m.log.Warn("cannot marshal listing", map[string]interface{}{"url": l.URL, "error": err.Error()})
			continue
		}
		if err := enc.Encode(bulkAction{Index: bulkTarget{Index: m.indexName, ID: DocumentID(userID, l.URL)}}); err != nil {
			return err
		}
		body.Write(doc)
		body.WriteByte('\n')
	}

	res, err := m.client.Bulk(&body, m.client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk error: %s", res.Status())
	}

	var out bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("parse bulk response: %w", err)
	}
	if !out.Errors {
		return nil
	}
	failed := 0
	for _, item := range out.Items {
		if item.Index.Status < 400 {
			continue
		}
		failed++
		m.log.Debug("listing not mirrored", map[string]interface{}{
			"id":     item.Index.ID,
			"type":   item.Index.Error.Type,
			"reason": item.Index.Error.Reason,
		})
	}
	m.log.Warn("bulk index partially failed", map[string]interface{}{"user_id": userID, "failed": failed, "total": len(listings)})
	return nil
}

// listingMapping folds accents and elisions so "séjour" matches "sejour"
// and "l'appartement" matches "appartement".
const listingMapping = `{
		"settings": {
			"analysis": {
				"analyzer": {
					"listing_analyzer": {
						"type": "custom",
						"tokenizer": "standard",
						"filter": ["lowercase", "asciifolding", "elision"]
					}
				}
			}
		},
		"mappings": {
			"properties": {
				"user_id": {"type": "keyword"},
				"url": {"type": "keyword"},
				"source": {"type": "keyword"},
				"status": {"type": "keyword"},
				"title": {
					"type": "text",
					"analyzer": "listing_analyzer",
					"fields": {"keyword": {"type": "keyword"}}
				},
				"description": {"type": "text", "analyzer": "listing_analyzer"},
				"location_text": {"type": "text", "analyzer": "listing_analyzer"},
				"price_eur": {"type": "integer"},
				"surface_m2": {"type": "integer"},
				"rooms": {"type": "integer"},
				"published_on": {"type": "date"},
				"annotations": {
					"properties": {
						"geo_confidence": {"type": "keyword"},
						"geo_postal_code": {"type": "keyword"},
						"geo_department": {"type": "keyword"},
						"geo_distance_km": {"type": "float"},
						"scraped_at": {"type": "date"}
					}
				}
			}
		}
	}`

// EnsureIndex creates the mirror index unless it exists
func (m *SearchMirror) EnsureIndex(ctx context.Context) error {
	exists, err := m.client.Indices.Exists([]string{m.indexName}, m.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", m.indexName, err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	created, err := m.client.Indices.Create(m.indexName,
		m.client.Indices.Create.WithBody(strings.NewReader(listingMapping)),
		m.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", m.indexName, err)
	}
	defer created.Body.Close()
	if created.IsError() {
		return fmt.Errorf("create index %s: %s", m.indexName, created.Status())
	}
	m.log.Info("search index created", map[string]interface{}{"index": m.indexName})
	return nil
}
