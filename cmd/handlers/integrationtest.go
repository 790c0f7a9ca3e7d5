package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"simdoc/internal/core"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewIntegrationTestCmd creates the integration-test command that exercises a
// running server end to end
func NewIntegrationTestCmd() *cobra.Command {
	var (
		baseURL   string
		timeout   int
		assetsDir string
	)

	cmd := &cobra.Command{
		Use:   "integration-test",
		Short: "Run end-to-end checks against a running server",
		Long: `Submit test articles to a running instance and verify the clustering
outcomes: exact-duplicate fast path, near-duplicate re-scoring, the
similar-articles view and metadata search.

With --assets-dir, each *.txt file in the directory is submitted as an
additional article (first line is the title, the rest the content).

A worker must be consuming the queue for the near-duplicate checks to
pass within the timeout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntegrationTest(cmd.Context(), baseURL, time.Duration(timeout)*time.Second, assetsDir)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://127.0.0.1:8000", "Base URL of the running server")
	cmd.Flags().IntVar(&timeout, "timeout", 30, "Seconds to wait for asynchronous clustering")
	cmd.Flags().StringVar(&assetsDir, "assets-dir", "", "Directory of *.txt articles to submit")

	return cmd
}

type integrationClient struct {
	base   string
	client *http.Client
}

func (c *integrationClient) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *integrationClient) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, nil, err
	}
	return c.do(req)
}

func (c *integrationClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func runIntegrationTest(ctx context.Context, baseURL string, timeout time.Duration, assetsDir string) error {
	client := &integrationClient{
		base:   strings.TrimRight(baseURL, "/") + "/api/v1",
		client: &http.Client{Timeout: 10 * time.Second},
	}
	run := uuid.NewString()[:8]
	passed := 0

	check := func(name string, fn func() error) error {
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		passed++
		fmt.Printf("ok   %s\n", name)
		return nil
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"health", func() error {
			status, body, err := client.get(ctx, "/system/health")
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("status %d: %s", status, body)
			}
			return nil
		}},
		{"exact duplicate fast path", func() error {
			a := "it-" + run + "-dup-a"
			b := "it-" + run + "-dup-b"
			text := "Warehouse fire contained after three hours of firefighting effort"
			if err := submitArticle(ctx, client, a, "Warehouse fire", text); err != nil {
				return err
			}
			if err := waitSettled(ctx, client, a, timeout); err != nil {
				return err
			}
			if err := submitArticle(ctx, client, b, "Warehouse fire", text); err != nil {
				return err
			}
			// No waiting: the fast path assigns synchronously.
			article, err := fetchArticle(ctx, client, b)
			if err != nil {
				return err
			}
			if article.ClusterStatus != "matched" || article.ClusterID == nil {
				return fmt.Errorf("expected matched with cluster, got %s", article.ClusterStatus)
			}
			return nil
		}},
		{"near duplicate slow path", func() error {
			a := "it-" + run + "-near-a"
			b := "it-" + run + "-near-b"
			body := "City council approved the new harbour tunnel budget on Monday after a lengthy debate over construction costs and the projected completion date."
			if err := submitArticle(ctx, client, a, "Harbour tunnel budget approved", body); err != nil {
				return err
			}
			if err := waitSettled(ctx, client, a, timeout); err != nil {
				return err
			}
			if err := submitArticle(ctx, client, b, "Council passes harbour tunnel budget", body); err != nil {
				return err
			}
			if err := waitSettled(ctx, client, b, timeout); err != nil {
				return err
			}
			status, respBody, err := client.get(ctx, "/articles/"+b+"/similar")
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("similar lookup status %d: %s", status, respBody)
			}
			if !bytes.Contains(respBody, []byte(a)) {
				return fmt.Errorf("expected %s among similar articles", a)
			}
			return nil
		}},
		{"metadata search", func() error {
			status, body, err := client.get(ctx, "/clusters/?title=harbour&page=1&page_size=10")
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("search status %d: %s", status, body)
			}
			return nil
		}},
	}

	for _, step := range steps {
		if err := check(step.name, step.fn); err != nil {
			return err
		}
	}

	if assetsDir != "" {
		if err := submitAssets(ctx, client, assetsDir, run); err != nil {
			return err
		}
		passed++
		fmt.Println("ok   asset submission")
	}

	fmt.Printf("%d checks passed\n", passed)
	return nil
}

func submitArticle(ctx context.Context, client *integrationClient, id, title, content string) error {
	status, body, err := client.post(ctx, "/articles/", map[string]any{
		"article_id":   id,
		"title":        title,
		"content":      content,
		"publish_time": time.Now().UTC().Format(time.RFC3339),
		"source":       "integration",
		"state":        1,
		"top":          0,
	})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("submit %s: status %d: %s", id, status, body)
	}
	return nil
}

type fetchedArticle struct {
	ClusterStatus string  `json:"cluster_status"`
	ClusterID     *string `json:"cluster_id"`
}

func fetchArticle(ctx context.Context, client *integrationClient, id string) (*fetchedArticle, error) {
	status, body, err := client.get(ctx, "/articles/"+id)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get %s: status %d: %s", id, status, body)
	}
	var resp struct {
		Article fetchedArticle `json:"article"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp.Article, nil
}

// waitSettled polls until the article leaves the pending state.
func waitSettled(ctx context.Context, client *integrationClient, id string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		article, err := fetchArticle(ctx, client, id)
		if err != nil {
			return err
		}
		if article.ClusterStatus != "pending" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("article %s still pending after %s (is a worker running?)", id, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// submitAssets submits every *.txt file in the directory as an article. The
// first line is the title; the remainder is the content.
func submitAssets(ctx context.Context, client *integrationClient, dir, run string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read asset %s: %w", path, err)
		}
		title, content, _ := strings.Cut(string(raw), "\n")
		title = core.SanitizeText(title, 500)
		content = core.SanitizeText(content, core.MaxContentLength)
		id := "it-" + run + "-asset-" + strings.TrimSuffix(filepath.Base(path), ".txt")
		if err := submitArticle(ctx, client, id, title, content); err != nil {
			return err
		}
	}
	fmt.Printf("submitted %d asset articles\n", len(paths))
	return nil
}
