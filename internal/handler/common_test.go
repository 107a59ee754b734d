package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Go_Pic/internal/logging"
	"Go_Pic/internal/service"
	"Go_Pic/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestReasonStatus(t *testing.T) {
	cases := map[service.Reason]int{
		service.ReasonNotFound:             http.StatusNotFound,
		service.ReasonExpired:              http.StatusForbidden,
		service.ReasonViewLimitReached:     http.StatusForbidden,
		service.ReasonInactive:             http.StatusForbidden,
		service.ReasonDownloadNotPermitted: http.StatusForbidden,
		service.ReasonPasswordRequired:     http.StatusUnauthorized,
		service.ReasonPasswordMismatch:     http.StatusUnauthorized,
		service.ReasonInvalidTarget:        http.StatusBadRequest,
		service.Allowed:                    http.StatusOK,
	}
	for reason, want := range cases {
		assert.Equal(t, want, reasonStatus(reason), string(reason))
	}
}

func TestWriteErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", service.ErrInvalidShareInput), http.StatusBadRequest},
		{service.ErrImageNotFound, http.StatusNotFound},
		{service.ErrImageNotPublic, http.StatusForbidden},
		{service.ErrCategoryHasChildren, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		writeError(c, logging.Discard(), tc.err)
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(c, logging.Discard(), errors.New("dsn user:secret@tcp"))
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestEntryNamesDeduplicates(t *testing.T) {
	names := entryNames([]model.Image{
		{Filename: "a.png"},
		{Filename: "a.png"},
		{Filename: "a.png"},
		{Filename: "../b.jpg"},
		{Filename: ""},
	})
	assert.Equal(t, []string{"a.png", "a (1).png", "a (2).png", "__b.jpg", "unnamed"}, names)
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("", false)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseDate("2024-05-01T10:00:00Z", true)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

	start, err := parseDate("2024-05-01", false)
	require.NoError(t, err)
	end, err := parseDate("2024-05-01", true)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour-time.Nanosecond, end.Sub(*start))

	_, err = parseDate("yesterday", false)
	assert.Error(t, err)
}

func TestBindStrictRejectsUnknownFields(t *testing.T) {
	type body struct {
		Name *string `json:"name" binding:"required"`
	}
	bind := func(raw string) error {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(raw))
		var b body
		return bindStrict(c, &b)
	}
	assert.NoError(t, bind(`{"name":"x"}`))
	assert.Error(t, bind(`{"name":"x","extra":true}`))
	assert.Error(t, bind(`{}`))
	assert.Error(t, bind(`not json`))
}

func TestParsePositiveInt(t *testing.T) {
	assert.Equal(t, 7, parsePositiveInt("7", 3))
	assert.Equal(t, 3, parsePositiveInt("", 3))
	assert.Equal(t, 3, parsePositiveInt("-1", 3))
	assert.Equal(t, 3, parsePositiveInt("x", 3))
}
