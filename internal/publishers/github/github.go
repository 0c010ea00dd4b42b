package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"subforge/internal/logger"
	"subforge/internal/model"
	"subforge/internal/publishers"
)

// Publisher commits the rendered config to a file in a GitHub repository
// through the contents API.
type Publisher struct {
	client *http.Client
}

type fileRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Sha     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type fileResponse struct {
	Sha string `json:"sha"`
}

type target struct {
	api     string
	token   string
	branch  string
	message string
	retries int
}

func (p *Publisher) Publish(ctx context.Context, cfg *model.SynthesizedConfig, params map[string]interface{}) error {
	payload, err := publishers.Render(cfg, params)
	if err != nil {
		return err
	}

	owner := publishers.String(params, "owner", "")
	repo := publishers.String(params, "repo", "")
	path := strings.TrimPrefix(publishers.String(params, "path", ""), "/")
	t := target{
		token:   publishers.String(params, "token", ""),
		branch:  publishers.String(params, "branch", ""),
		message: publishers.String(params, "message", "Update sing-box config [subforge]"),
		retries: publishers.Int(params, "retries", 0),
	}
	if t.token == "" || owner == "" || repo == "" || path == "" {
		return fmt.Errorf("github publisher requires token, owner, repo, and path")
	}
	base := strings.TrimRight(publishers.String(params, "api_url", "https://api.github.com"), "/")
	t.api = fmt.Sprintf("%s/repos/%s/%s/contents/%s", base, owner, repo, path)

	client := p.client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	sha, err := p.currentSha(ctx, client, t)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(fileRequest{
		Message: t.message,
		Content: base64.StdEncoding.EncodeToString(payload),
		Sha:     sha,
		Branch:  t.branch,
	})

	err = retry(ctx, t.retries, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.api, bytes.NewReader(body))
		if err != nil {
			return err
		}
		t.headers(req)
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("github upload failed: %w", err)
	}
	logger.Log.Infof("📤 Published config to %s/%s/%s", owner, repo, path)
	return nil
}

// currentSha returns the blob sha of the existing file, or "" when it does
// not exist yet.
func (p *Publisher) currentSha(ctx context.Context, client *http.Client, t target) (string, error) {
	var sha string
	err := retry(ctx, t.retries, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.api, nil)
		if err != nil {
			return err
		}
		t.headers(req)
		if t.branch != "" {
			q := req.URL.Query()
			q.Set("ref", t.branch)
			req.URL.RawQuery = q.Encode()
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			var existing fileResponse
			if err := json.NewDecoder(resp.Body).Decode(&existing); err != nil {
				return fmt.Errorf("failed to parse github response: %w", err)
			}
			sha = existing.Sha
			return nil
		case http.StatusNotFound:
			sha = ""
			return nil
		default:
			return fmt.Errorf("status %d", resp.StatusCode)
		}
	})
	if err != nil {
		return "", fmt.Errorf("github lookup failed: %w", err)
	}
	return sha, nil
}

func (t target) headers(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
}

func retry(ctx context.Context, retries int, fn func() error) error {
	var err error
	for i := 0; i <= retries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		logger.Log.Debugf("GitHub attempt %d/%d failed: %v", i+1, retries+1, err)
		if i < retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
	return err
}

func init() {
	publishers.Register("github", func() publishers.Publisher { return &Publisher{} })
}
