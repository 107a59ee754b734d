package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"Go_Pic/internal/dto"
	"Go_Pic/internal/service"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode      int
	Message         string
	Reason          string
	RequirePassword bool
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Client talks to the share endpoints of the image manager API.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type envelope struct {
	Success         bool            `json:"success"`
	Message         string          `json:"message"`
	Data            json.RawMessage `json:"data"`
	Reason          string          `json:"reason"`
	RequirePassword bool            `json:"requirePassword"`
}

// Download is a streamed share download. The caller closes Body.
type Download struct {
	Filename    string
	ContentType string
	Body        io.ReadCloser
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil {
		if env.Message != "" {
			apiErr.Message = env.Message
		}
		apiErr.Reason = env.Reason
		apiErr.RequirePassword = env.RequirePassword
	}
	return apiErr
}

// call sends a JSON request and decodes the data field of the envelope into out.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func shareQuery(password, imageID string) url.Values {
	q := url.Values{}
	if password != "" {
		q.Set("password", password)
	}
	if imageID != "" {
		q.Set("imageId", imageID)
	}
	return q
}

func (c *Client) CreateShare(ctx context.Context, req dto.CreateShareRequest) (*dto.CreateShareResponse, error) {
	var out dto.CreateShareResponse
	if err := c.call(ctx, http.MethodPost, "/api/share", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetShare opens a share link. Every successful call counts one view.
func (c *Client) GetShare(ctx context.Context, token, password string) (*dto.ShareAccessResponse, error) {
	var out dto.ShareAccessResponse
	path := "/api/share/" + url.PathEscape(token)
	if err := c.call(ctx, http.MethodGet, path, shareQuery(password, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadShare streams one shared image, or a zip of all of them when imageID is empty
// and the link holds several images.
func (c *Client) DownloadShare(ctx context.Context, token, password, imageID string) (*Download, error) {
	path := "/api/share/" + url.PathEscape(token) + "/download"
	req, err := c.newRequest(ctx, http.MethodGet, path, shareQuery(password, imageID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	d := &Download{ContentType: resp.Header.Get("Content-Type"), Body: resp.Body}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		d.Filename = params["filename"]
	}
	return d, nil
}

func (c *Client) ListShares(ctx context.Context, page, limit int, sortBy, sortOrder string) (*service.ShareList, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if sortBy != "" {
		q.Set("sortBy", sortBy)
	}
	if sortOrder != "" {
		q.Set("sortOrder", sortOrder)
	}
	var out service.ShareList
	if err := c.call(ctx, http.MethodGet, "/api/share", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetShareActive revokes or reactivates a link.
func (c *Client) SetShareActive(ctx context.Context, id string, active bool) (*service.ShareView, error) {
	var out service.ShareView
	body := dto.UpdateShareRequest{IsActive: &active}
	if err := c.call(ctx, http.MethodPatch, "/api/share/manage/"+url.PathEscape(id), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteShare(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/share/manage/"+url.PathEscape(id), nil, nil, nil)
}
