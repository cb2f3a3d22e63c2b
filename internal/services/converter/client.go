package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vidrelay/internal/config"
	"vidrelay/internal/services"
)

const (
	defaultStatusTimeout          = 10 * time.Second
	defaultUploadTimeout          = 300 * time.Second
	defaultDownloadConnectTimeout = 30 * time.Second
	defaultDownloadTimeout        = 7200 * time.Second

	maxErrorBodyBytes = 4 << 10
)

// Config captures the remote endpoint and per-operation timeouts.
type Config struct {
	BaseURL                string
	StatusTimeout          time.Duration
	UploadTimeout          time.Duration
	DownloadConnectTimeout time.Duration
	DownloadTimeout        time.Duration
}

// ConfigFromRemote converts the [remote] configuration section.
func ConfigFromRemote(remote config.Remote) Config {
	return Config{
		BaseURL:                remote.BaseURL,
		StatusTimeout:          time.Duration(remote.StatusTimeout) * time.Second,
		UploadTimeout:          time.Duration(remote.UploadTimeout) * time.Second,
		DownloadConnectTimeout: time.Duration(remote.DownloadConnectTimeout) * time.Second,
		DownloadTimeout:        time.Duration(remote.DownloadTimeout) * time.Second,
	}
}

// Client issues requests against one conversion service.
type Client struct {
	baseURL  string
	control  *http.Client
	upload   *http.Client
	download *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient uses client for every operation type.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.control = client
			c.upload = client
			c.download = client
		}
	}
}

// WithDownloadClient overrides the client used for file retrieval.
func WithDownloadClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.download = client
		}
	}
}

// NewClient constructs a client for cfg.BaseURL.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, services.Wrap(services.ErrConfiguration, "converter", "new client",
			fmt.Sprintf("invalid base url %q", cfg.BaseURL), err)
	}

	statusTimeout := orDefault(cfg.StatusTimeout, defaultStatusTimeout)
	uploadTimeout := orDefault(cfg.UploadTimeout, defaultUploadTimeout)
	connectTimeout := orDefault(cfg.DownloadConnectTimeout, defaultDownloadConnectTimeout)
	downloadTimeout := orDefault(cfg.DownloadTimeout, defaultDownloadTimeout)

	client := &Client{
		baseURL: base,
		control: &http.Client{Timeout: statusTimeout},
		upload:  &http.Client{Timeout: uploadTimeout},
		download: &http.Client{
			Timeout: downloadTimeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   connectTimeout,
				ResponseHeaderTimeout: connectTimeout,
				MaxIdleConns:          4,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// BaseURL returns the normalized service URL.
func (c *Client) BaseURL() string { return c.baseURL }

func orDefault(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s: http %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Operation, e.StatusCode, body)
}

// Unwrap classifies the status: client errors other than 408 and 429 are
// permanent, everything else may succeed on retry.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return services.ErrTransient
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return services.ErrPermanent
	default:
		return services.ErrTransient
	}
}

func newStatusError(op string, resp *http.Response) *StatusError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &StatusError{Operation: op, StatusCode: resp.StatusCode, Body: string(snippet)}
}

func transportError(op string, err error) error {
	return services.Wrap(services.ErrTransient, "converter", op, "request failed", err)
}

// Chunk is one slice of a file upload.
type Chunk struct {
	Filename       string
	Index          int
	Total          int
	AdditionalArgs string
	SessionToken   string
	Data           []byte
}

// ChunkResponse is the server's reply to a chunk upload.
type ChunkResponse struct {
	SessionID string
	Message   string
}

type chunkReply struct {
	SessionID json.RawMessage `json:"session_id"`
	Message   json.RawMessage `json:"message"`
}

// scalarString renders a JSON string or number as text; anything else is "".
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}

// PostChunk uploads one chunk. The session_id field is only sent when
// chunk.SessionToken is set.
func (c *Client) PostChunk(ctx context.Context, chunk Chunk) (ChunkResponse, error) {
	var (
		empty ChunkResponse
		body  bytes.Buffer
	)
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("chunk", "chunk")
	if err != nil {
		return empty, fmt.Errorf("upload: create form file: %w", err)
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return empty, fmt.Errorf("upload: write chunk: %w", err)
	}
	fields := [][2]string{
		{"filename", chunk.Filename},
		{"chunk_index", strconv.Itoa(chunk.Index)},
		{"total_chunks", strconv.Itoa(chunk.Total)},
		{"additional_args", chunk.AdditionalArgs},
	}
	if chunk.SessionToken != "" {
		fields = append(fields, [2]string{"session_id", chunk.SessionToken})
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return empty, fmt.Errorf("upload: write field %s: %w", field[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return empty, fmt.Errorf("upload: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return empty, fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.upload.Do(req)
	if err != nil {
		return empty, transportError("upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return empty, newStatusError("upload", resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, transportError("upload", err)
	}
	var reply chunkReply
	if err := decodeObject(raw, &reply); err != nil {
		return empty, services.Wrap(services.ErrProtocol, "converter", "upload", "decode response", err)
	}
	return ChunkResponse{SessionID: scalarString(reply.SessionID), Message: scalarString(reply.Message)}, nil
}

type statusPayload struct {
	ConvertedFiles json.RawMessage `json:"converted_files"`
}

// FetchStatus returns the filenames the service reports as converted. Entries
// that are not non-empty strings are dropped.
func (c *Client) FetchStatus(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return nil, fmt.Errorf("status: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.control.Do(req)
	if err != nil {
		return nil, transportError("status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError("status", resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError("status", err)
	}

	var payload statusPayload
	if err := decodeObject(raw, &payload); err != nil {
		return nil, services.Wrap(services.ErrProtocol, "converter", "status", "decode response", err)
	}
	if len(payload.ConvertedFiles) == 0 || string(payload.ConvertedFiles) == "null" {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(payload.ConvertedFiles, &entries); err != nil {
		return nil, services.Wrap(services.ErrProtocol, "converter", "status", "converted_files is not a list", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		var name string
		if err := json.Unmarshal(entry, &name); err != nil {
			continue
		}
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// DownloadStream is an open download response body.
type DownloadStream struct {
	StatusCode int
	Body       io.ReadCloser
}

// OpenDownload requests filename, asking for bytes from offset onward when
// offset is positive. Non-2xx responses are returned as *StatusError.
func (c *Client) OpenDownload(ctx context.Context, filename string, offset int64) (*DownloadStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(filename), nil)
	if err != nil {
		return nil, fmt.Errorf("download: build request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return nil, transportError("download", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, newStatusError("download", resp)
	}
	return &DownloadStream{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// DownloadURL builds the retrieval URL with every reserved character of
// filename percent-encoded.
func (c *Client) DownloadURL(filename string) string {
	return c.baseURL + "/download/" + EscapeFilename(filename)
}

// EscapeFilename percent-encodes everything except unreserved characters.
func EscapeFilename(filename string) string {
	return strings.ReplaceAll(url.QueryEscape(filename), "+", "%20")
}

func decodeObject(raw []byte, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("response is not a JSON object")
	}
	return json.Unmarshal(trimmed, dst)
}
