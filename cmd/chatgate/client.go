// ABOUTME: Subcommands that query a running gateway over HTTP
// ABOUTME: health checks /healthz, skills lists /api/skills

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2389/chatgate/internal/config"
	"github.com/2389/chatgate/internal/httpclient"
)

// gatewayGet loads the config at configPath and GETs path from the gateway it describes.
func gatewayGet(ctx context.Context, configPath, path string) ([]byte, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return getURL(ctx, "http://"+cfg.Server.HTTPAddr+path)
}

func getURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := httpclient.New(httpclient.WithTimeout(10 * time.Second)).Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

func runHealth(ctx context.Context, out io.Writer, configPath string) error {
	if _, err := gatewayGet(ctx, configPath, "/healthz"); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Fprintln(out, "healthy")
	return nil
}

func runSkills(ctx context.Context, out io.Writer, configPath string) error {
	body, err := gatewayGet(ctx, configPath, "/api/skills")
	if err != nil {
		return fmt.Errorf("listing skills: %w", err)
	}
	return printSkills(out, body)
}

func printSkills(out io.Writer, body []byte) error {
	var resp struct {
		Skills []string `json:"skills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decoding skills: %w", err)
	}
	if len(resp.Skills) == 0 {
		fmt.Fprintln(out, "no skills")
		return nil
	}
	for _, s := range resp.Skills {
		fmt.Fprintln(out, s)
	}
	return nil
}
