package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("decodes a valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
		var p payload
		require.NoError(t, DecodeJSON(req, &p))
		assert.Equal(t, "x", p.Name)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","typo":true}`))
		var p payload
		assert.Error(t, DecodeJSON(req, &p))
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		var p payload
		assert.Error(t, DecodeJSON(req, &p))
	})
}

func TestPathInt64(t *testing.T) {
	t.Run("parses a numeric variable", func(t *testing.T) {
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil),
			map[string]string{"tenantID": "42"})

		v, err := PathInt64(req, "tenantID")
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
	})

	t.Run("missing variable errors", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := PathInt64(req, "tenantID")
		assert.Error(t, err)
	})

	t.Run("non-numeric variable errors", func(t *testing.T) {
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil),
			map[string]string{"tenantID": "abc"})
		_, err := PathInt64(req, "tenantID")
		assert.Error(t, err)
	})
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&bad=xyz", nil)

	assert.Equal(t, 25, QueryInt(req, "limit", 50))
	assert.Equal(t, 50, QueryInt(req, "missing", 50))
	assert.Equal(t, 50, QueryInt(req, "bad", 50))
}
