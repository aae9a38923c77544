package monday

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultAPIURL  = "https://api.monday.com/v2"
	DefaultFileURL = "https://api.monday.com/v2/file"

	defaultAPITimeout = 30 * time.Second
	// File uploads carry whole screen recordings; give them room.
	defaultUploadTimeout = 5 * time.Minute

	maxResponseBytes = 1 << 20
)

const createItemMutation = `mutation CreateItem($boardId: ID!, $itemName: String!, $columnValues: JSON!) {
  create_item(board_id: $boardId, item_name: $itemName, column_values: $columnValues) {
    id
  }
}`

// Client talks to the remote item-store: a GraphQL endpoint for item
// creation and a separate multipart endpoint for file attachment. Neither
// operation is retried here; retry policy belongs to the callers.
type Client struct {
	apiURL       string
	fileURL      string
	httpClient   *http.Client
	uploadClient *http.Client
	logger       *log.Logger
}

type Option func(*Client)

func WithBaseURLs(apiURL, fileURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(apiURL) != "" {
			c.apiURL = strings.TrimSuffix(strings.TrimSpace(apiURL), "/")
		}
		if strings.TrimSpace(fileURL) != "" {
			c.fileURL = strings.TrimSuffix(strings.TrimSpace(fileURL), "/")
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithUploadHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.uploadClient = client
		}
	}
}

func New(logger *log.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{
		apiURL:       DefaultAPIURL,
		fileURL:      DefaultFileURL,
		httpClient:   &http.Client{Timeout: defaultAPITimeout},
		uploadClient: &http.Client{Timeout: defaultUploadTimeout},
		logger:       logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type apiError struct {
	Message string `json:"message"`
}

type createItemResponse struct {
	Data struct {
		CreateItem struct {
			ID string `json:"id"`
		} `json:"create_item"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

type uploadFileResponse struct {
	Data struct {
		AddFileToColumn struct {
			ID string `json:"id"`
		} `json:"add_file_to_column"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

// CreateItem creates one item on the given board and returns its id. Any
// API-level error is a hard failure carrying the first reported message.
func (c *Client) CreateItem(ctx context.Context, token, boardID, itemName string, columnValues map[string]any) (string, error) {
	if columnValues == nil {
		columnValues = map[string]any{}
	}
	columnValuesJSON, err := json.Marshal(columnValues)
	if err != nil {
		return "", fmt.Errorf("marshal column values: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"query": createItemMutation,
		"variables": map[string]any{
			"boardId":      boardID,
			"itemName":     itemName,
			"columnValues": string(columnValuesJSON),
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal create item request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build create item request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", normalizeToken(token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	defer resp.Body.Close()

	var parsed createItemResponse
	if err := decodeResponse(resp, &parsed); err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return "", fmt.Errorf("item-store error: %s", parsed.Errors[0].Message)
	}
	if parsed.Data.CreateItem.ID == "" {
		return "", fmt.Errorf("create item: no id returned")
	}

	c.logger.Printf("item created id=%s board=%s", parsed.Data.CreateItem.ID, boardID)
	return parsed.Data.CreateItem.ID, nil
}

// UploadFile attaches a file to a column of an existing item via the
// multipart file endpoint and returns the remote file id.
func (c *Client) UploadFile(ctx context.Context, token, itemID, columnID string, file io.Reader, fileName string) (string, error) {
	mutation := fmt.Sprintf(`mutation ($file: File!) {
  add_file_to_column(item_id: %s, column_id: %q, file: $file) {
    id
  }
}`, itemID, columnID)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("query", mutation); err != nil {
		return "", fmt.Errorf("write query field: %w", err)
	}
	if err := form.WriteField("map", `{"file":"variables.file"}`); err != nil {
		return "", fmt.Errorf("write map field: %w", err)
	}
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy file into request: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.fileURL, &buf)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", normalizeToken(token))

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	var parsed uploadFileResponse
	if err := decodeResponse(resp, &parsed); err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return "", fmt.Errorf("item-store upload error: %s", parsed.Errors[0].Message)
	}

	fileID := parsed.Data.AddFileToColumn.ID
	if fileID == "" {
		fileID = "unknown"
	}
	c.logger.Printf("file attached id=%s item=%s column=%s name=%s", fileID, itemID, columnID, fileName)
	return fileID, nil
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, message)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// normalizeToken strips a "Bearer " prefix. The upstream API expects the
// raw token in the Authorization header.
func normalizeToken(token string) string {
	trimmed := strings.TrimSpace(token)
	if len(trimmed) > 7 && strings.EqualFold(trimmed[:7], "bearer ") {
		return strings.TrimSpace(trimmed[7:])
	}
	return trimmed
}
