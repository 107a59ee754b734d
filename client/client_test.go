package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"Go_Pic/internal/dto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/share", func(w http.ResponseWriter, r *http.Request) {
		var req dto.CreateShareRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"data": dto.CreateShareResponse{
				ID:          "s1",
				Token:       "tok",
				ShareURL:    "http://pics.test/api/share/tok",
				HasPassword: req.Password != "",
				ImageCount:  1,
			},
		})
	})
	mux.HandleFunc("GET /api/share/{token}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("token") != "tok" {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "message": "share link not found", "reason": "not_found"})
			return
		}
		if r.URL.Query().Get("password") != "abc" {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"success": false, "message": "password required", "reason": "password_required", "requirePassword": true,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"shareInfo": map[string]interface{}{"id": "s1", "viewCount": 1}, "images": []interface{}{}},
		})
	})
	mux.HandleFunc("GET /api/share/{token}/download", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "img-1", r.URL.Query().Get("imageId"))
		w.Header().Set("Content-Disposition", `attachment; filename="a.png"`)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("PATCH /api/share/manage/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req dto.UpdateShareRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"id": r.PathValue("id"), "is_active": *req.IsActive},
		})
	})
	mux.HandleFunc("DELETE /api/share/manage/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "share link deleted"})
	})
	mux.HandleFunc("GET /api/share", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"shareLinks": []interface{}{map[string]interface{}{"id": "s1", "token": "tok", "has_password": true}},
				"pagination": map[string]interface{}{"page": 2, "limit": 10, "total": 11, "pages": 2},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateAndGetShare(t *testing.T) {
	ctx := context.Background()
	c := New(newServer(t).URL+"/", nil)

	created, err := c.CreateShare(ctx, dto.CreateShareRequest{ImageID: "img-1", Password: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "tok", created.Token)
	assert.True(t, created.HasPassword)

	access, err := c.GetShare(ctx, "tok", "abc")
	require.NoError(t, err)
	assert.Equal(t, 1, access.ShareInfo.ViewCount)
}

func TestGetShareReportsDenial(t *testing.T) {
	ctx := context.Background()
	c := New(newServer(t).URL, nil)

	_, err := c.GetShare(ctx, "tok", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.True(t, apiErr.RequirePassword)
	assert.Equal(t, "password_required", apiErr.Reason)

	_, err = c.GetShare(ctx, "missing", "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.False(t, apiErr.RequirePassword)
}

func TestDownloadShare(t *testing.T) {
	c := New(newServer(t).URL, nil)

	d, err := c.DownloadShare(context.Background(), "tok", "", "img-1")
	require.NoError(t, err)
	defer d.Body.Close()
	assert.Equal(t, "a.png", d.Filename)
	assert.Equal(t, "image/png", d.ContentType)
	data, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestManageShares(t *testing.T) {
	ctx := context.Background()
	c := New(newServer(t).URL, nil)

	list, err := c.ListShares(ctx, 2, 10, "", "")
	require.NoError(t, err)
	require.Len(t, list.ShareLinks, 1)
	assert.True(t, list.ShareLinks[0].HasPassword)
	assert.EqualValues(t, 11, list.Pagination.Total)

	view, err := c.SetShareActive(ctx, "s1", false)
	require.NoError(t, err)
	assert.Equal(t, "s1", view.ID)
	assert.False(t, view.IsActive)

	require.NoError(t, c.DeleteShare(ctx, "s1"))
}
