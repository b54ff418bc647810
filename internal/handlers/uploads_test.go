package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"dm-service/internal/uploads"
)

type imageMap map[string][]byte

func (m imageMap) Get(id string) ([]byte, string, error) {
	if id == "broken" {
		return nil, "", errors.New("read failed")
	}
	data, ok := m[id]
	if !ok {
		return nil, "", uploads.ErrNotFound
	}
	return data, "image/png", nil
}

func TestUploadHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/uploads/:id", NewUploadHandler(imageMap{"abc": []byte("png-bytes")}).Get)

	cases := []struct {
		id     string
		status int
	}{
		{"abc", http.StatusOK},
		{"missing", http.StatusNotFound},
		{"broken", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/"+tc.id, nil))
		assert.Equal(t, tc.status, rec.Code, tc.id)
		if tc.status == http.StatusOK {
			assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
			assert.Equal(t, "png-bytes", rec.Body.String())
		}
	}
}
