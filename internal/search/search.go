// Package search is the client side of the external search index. The
// workflow puts a questionnaire (and the questionnaires linking to it) after
// publication and deletes the version it demoted.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Document is the indexed representation of one questionnaire version.
type Document struct {
	ID                int64           `json:"id"`
	Code              string          `json:"code"`
	Version           int             `json:"version"`
	ConfigurationCode string          `json:"configuration_code"`
	Updated           time.Time       `json:"updated"`
	Data              json.RawMessage `json:"data"`
}

// Indexer puts and deletes questionnaire documents.
type Indexer interface {
	Put(ctx context.Context, docs []Document) error
	Delete(ctx context.Context, docs []Document) error
}

// NewIndexer returns an HTTP indexer for baseURL, or a no-op indexer when
// baseURL is empty.
func NewIndexer(baseURL string, timeout time.Duration) Indexer {
	if baseURL == "" {
		return nopIndexer{}
	}
	return &httpIndexer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type nopIndexer struct{}

func (nopIndexer) Put(ctx context.Context, docs []Document) error    { return nil }
func (nopIndexer) Delete(ctx context.Context, docs []Document) error { return nil }

// httpIndexer talks to the index service with one request per document:
// PUT/DELETE {base}/{configuration}/{id}.
type httpIndexer struct {
	baseURL string
	client  *http.Client
}

// Put indexes every document. It stops at the first failure.
func (i *httpIndexer) Put(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encoding document %d: %w", doc.ID, err)
		}
		if err := i.do(ctx, http.MethodPut, doc, body); err != nil {
			return err
		}
	}
	slog.Debug("search documents put", slog.Int("count", len(docs)))
	return nil
}

// Delete removes every document. Missing documents are not an error.
func (i *httpIndexer) Delete(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		if err := i.do(ctx, http.MethodDelete, doc, nil); err != nil {
			return err
		}
	}
	slog.Debug("search documents deleted", slog.Int("count", len(docs)))
	return nil
}

func (i *httpIndexer) do(ctx context.Context, method string, doc Document, body []byte) error {
	target := i.baseURL + "/" + url.PathEscape(doc.ConfigurationCode) + "/" + strconv.FormatInt(doc.ID, 10)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, target, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", method, target, resp.StatusCode)
	}
	return nil
}
