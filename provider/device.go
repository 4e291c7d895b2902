package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ensure interface is implemented
var _ Device = (*DeviceClient)(nil)

// Entry is one item of a device directory listing.
type Entry struct {
	Name string `json:"name"`
	// Type is "dir" or "file".
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Type == "dir" }

// Usage is the device storage status.
type Usage struct {
	TotalBytes int64 `json:"totalBytes"`
	UsedBytes  int64 `json:"usedBytes"`
}

// FreeBytes returns the remaining capacity.
func (u Usage) FreeBytes() int64 {
	if u.UsedBytes >= u.TotalBytes {
		return 0
	}
	return u.TotalBytes - u.UsedBytes
}

// StatusError is returned for non-success responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// DialFunc dials a network connection, typically a gate's DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DeviceClient talks to the device file-manager over HTTP.
type DeviceClient struct {
	baseURL *url.URL
	client  *http.Client
}

// DeviceOption configures a DeviceClient.
type DeviceOption func(*DeviceClient)

// WithDialer routes every connection through dial.
func WithDialer(dial DialFunc) DeviceOption {
	return func(d *DeviceClient) {
		d.client = &http.Client{
			Transport: &http.Transport{
				DialContext:         dial,
				MaxIdleConns:        4,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
}

// NewDeviceClient creates a client for the device at baseURL
// (for example http://192.168.4.1).
func NewDeviceClient(baseURL string, opts ...DeviceOption) (*DeviceClient, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid device url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid device url %q: missing scheme or host", baseURL)
	}
	d := &DeviceClient{
		baseURL: u,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *DeviceClient) endpoint(p string, query url.Values) string {
	u := *d.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + p
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// List returns the entries of dir, directories first, then by name.
func (d *DeviceClient) List(ctx context.Context, dir string) ([]Entry, error) {
	if dir == "" {
		dir = "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint("/list", url.Values{"dir": {dir}}), nil)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := d.doJSON(req, &entries); err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", dir, err)
	}
	SortEntries(entries)
	return entries, nil
}

// SortEntries orders directories before files, then lexicographically by name.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name < entries[j].Name
	})
}

// Status returns the device storage usage.
func (d *DeviceClient) Status(ctx context.Context) (Usage, error) {
	var u Usage
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint("/status", nil), nil)
	if err != nil {
		return u, err
	}
	if err := d.doJSON(req, &u); err != nil {
		return u, fmt.Errorf("failed to get status: %w", err)
	}
	return u, nil
}

// Mkdir creates a folder.
func (d *DeviceClient) Mkdir(ctx context.Context, p string) error {
	return d.form(ctx, http.MethodPut, url.Values{"path": {p}})
}

// Rename moves src to dst.
func (d *DeviceClient) Rename(ctx context.Context, src, dst string) error {
	return d.form(ctx, http.MethodPut, url.Values{"path": {dst}, "src": {src}})
}

// Delete removes a file or folder.
func (d *DeviceClient) Delete(ctx context.Context, p string) error {
	return d.form(ctx, http.MethodDelete, url.Values{"path": {p}})
}

func (d *DeviceClient) form(ctx context.Context, method string, values url.Values) error {
	req, err := http.NewRequestWithContext(ctx, method, d.endpoint("/edit", nil), strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return d.do(req)
}

// Upload posts r as a single multipart part named "data" whose filename is
// the destination path. The multipart envelope is built up front so the
// request carries a Content-Length whenever size is known.
func (d *DeviceClient) Upload(ctx context.Context, dest string, r io.Reader, size int64) error {
	var envelope bytes.Buffer
	mw := multipart.NewWriter(&envelope)
	if _, err := mw.CreateFormFile("data", dest); err != nil {
		return fmt.Errorf("failed to build multipart header: %w", err)
	}
	head := append([]byte(nil), envelope.Bytes()...)
	envelope.Reset()
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to build multipart trailer: %w", err)
	}
	tail := append([]byte(nil), envelope.Bytes()...)

	body := io.MultiReader(bytes.NewReader(head), r, bytes.NewReader(tail))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint("/edit", nil), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if size >= 0 {
		req.ContentLength = int64(len(head)) + size + int64(len(tail))
	} else {
		req.ContentLength = -1
	}
	return d.do(req)
}

func (d *DeviceClient) do(req *http.Request) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(req, resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (d *DeviceClient) doJSON(req *http.Request, out any) error {
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(req, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkStatus(req *http.Request, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return &StatusError{
		Method: req.Method,
		Path:   req.URL.Path,
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(msg)),
	}
}
