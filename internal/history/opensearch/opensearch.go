// Package opensearch indexes cluster phase transitions in OpenSearch or
// Elasticsearch through the document API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/ray-operator/internal/history"
)

// DefaultIndex is used when the DSN names no index.
const DefaultIndex = "ray-cluster-phases"

// phaseDoc is the indexed shape of a phase event. Its fields mirror the
// columns of the SQL history tables so dashboards can share queries.
type phaseDoc struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	Namespace string    `json:"namespace"`
	Cluster   string    `json:"cluster"`
	Phase     string    `json:"phase"`
	Retries   int32     `json:"autoscaler_retries"`
}

// Sink writes one document per phase event to <baseURL>/<index>/_doc.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(phaseDoc{
		Timestamp: e.OccurredAt.UTC(),
		Event:     string(e.Type),
		Namespace: e.Record.Namespace,
		Cluster:   e.Record.Cluster,
		Phase:     e.Record.Phase,
		Retries:   e.Record.Retries,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+s.index+"/_doc", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("index phase of %s/%s: %w", e.Record.Namespace, e.Record.Cluster, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("index phase of %s/%s: status %d: %s",
			e.Record.Namespace, e.Record.Cluster, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
