// Package jira uploads exported files as attachments to a Jira issue
// and posts a comment, via the REST v2 API.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/goliatone/go-chunkexport/export"
)

// Client talks to a Jira instance with basic auth.
type Client struct {
	BaseURL  string
	Username string
	Password string
	HTTP     *retryablehttp.Client
	Logger   export.Logger
}

// NewClient creates a Jira client with a retrying HTTP client.
func NewClient(baseURL, username, password string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		HTTP:     httpClient,
		Logger:   export.NopLogger{},
	}
}

var _ export.Uploader = (*Client)(nil)

// AttachAndComment uploads all paths as attachments to the issue, then
// posts the comment. Implements export.Uploader.
func (c *Client) AttachAndComment(ctx context.Context, issueKey, issueTitle string, paths []string, comment string) error {
	if err := c.Attach(ctx, issueKey, paths); err != nil {
		return err
	}
	return c.Comment(ctx, issueKey, comment)
}

// Attach uploads the files at paths as attachments to the issue.
func (c *Client) Attach(ctx context.Context, issueKey string, paths []string) error {
	if err := c.check(issueKey); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/rest/api/2/issue/%s/attachments", c.BaseURL, issueKey)
	for _, path := range paths {
		c.logger().Infof("uploading %s to %s", path, url)
		if err := c.attachOne(ctx, url, path); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) attachOne(ctx context.Context, url, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return export.NewError(export.KindUpload, fmt.Sprintf("opening attachment %s failed", path), err)
	}
	defer func() {
		_ = file.Close()
	}()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return export.NewError(export.KindUpload, "building attachment form failed", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return export.NewError(export.KindUpload, fmt.Sprintf("reading attachment %s failed", path), err)
	}
	if err := writer.Close(); err != nil {
		return export.NewError(export.KindUpload, "building attachment form failed", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body.Bytes())
	if err != nil {
		return export.NewError(export.KindUpload, "building attachment request failed", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "nocheck")

	return c.do(req, nil)
}

// Comment posts a comment on the issue.
func (c *Client) Comment(ctx context.Context, issueKey, body string) error {
	if err := c.check(issueKey); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return export.NewError(export.KindUpload, "encoding comment failed", err)
	}

	url := fmt.Sprintf("%s/rest/api/2/issue/%s/comment", c.BaseURL, issueKey)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return export.NewError(export.KindUpload, "building comment request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger().Infof("adding comment to %s", url)
	return c.do(req, nil)
}

// IssueTitle fetches the summary of the issue.
func (c *Client) IssueTitle(ctx context.Context, issueKey string) (string, error) {
	if err := c.check(issueKey); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/rest/api/2/issue/%s", c.BaseURL, issueKey)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", export.NewError(export.KindUpload, "building issue request failed", err)
	}

	var issue struct {
		Fields struct {
			Summary string `json:"summary"`
		} `json:"fields"`
	}
	if err := c.do(req, &issue); err != nil {
		return "", err
	}
	return issue.Fields.Summary, nil
}

func (c *Client) check(issueKey string) error {
	if c == nil || c.BaseURL == "" {
		return export.NewError(export.KindConfig, "jira base URL is required", nil)
	}
	if strings.TrimSpace(issueKey) == "" {
		return export.NewError(export.KindConfig, "issue key is required", nil)
	}
	return nil
}

func (c *Client) do(req *retryablehttp.Request, out any) error {
	req.SetBasicAuth(c.Username, c.Password)

	client := c.HTTP
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return export.NewError(export.KindUpload, "jira request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return export.NewError(export.KindUpload, fmt.Sprintf("jira responded with status %d", resp.StatusCode), nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return export.NewError(export.KindUpload, "decoding jira response failed", err)
		}
	}
	return nil
}

func (c *Client) logger() export.Logger {
	if c == nil || c.Logger == nil {
		return export.NopLogger{}
	}
	return c.Logger
}
