// Package advisory resolves pinned Python dependencies against the OSV
// vulnerability database. Only the query path is implemented: the scanner
// needs to know whether a pin is affected, not to mirror the database.
package advisory

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sugawarayuuta/sonnet"
)

// DefaultBaseURL is the production OSV endpoint.
const DefaultBaseURL = "https://api.osv.dev"

const cacheSize = 512

// An Advisory is one published vulnerability affecting a queried package
// version.
type Advisory struct {
	ID      string   `json:"id"`
	Summary string   `json:"summary"`
	Aliases []string `json:"aliases,omitempty"`
}

type query struct {
	Package struct {
		Name      string `json:"name"`
		Ecosystem string `json:"ecosystem"`
	} `json:"package"`
	Version string `json:"version"`
}

// A Client queries OSV for PyPI advisories. Identical (name, version) lookups
// within a run are served from an in-process cache, so auditing many projects
// that share pins costs one request per distinct pin.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *lru.Cache[string, []Advisory]
}

// NewClient creates a Client against the given endpoint. An empty baseURL
// selects the production service.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cache, err := lru.New[string, []Advisory](cacheSize)
	if err != nil {
		panic(err)
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		cache:   cache,
	}
}

// Query returns the advisories affecting the given PyPI package version. A nil
// slice means the pin is clean.
func (c *Client) Query(ctx context.Context, name, version string) ([]Advisory, error) {
	key := name + "==" + version
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	var q query
	q.Package.Name = name
	q.Package.Ecosystem = "PyPI"
	q.Version = version

	body, err := sonnet.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying %s: %s", key, resp.Status)
	}

	var result struct {
		Vulns []Advisory `json:"vulns"`
	}
	if err := sonnet.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response for %s: %w", key, err)
	}

	c.cache.Add(key, result.Vulns)
	return result.Vulns, nil
}
