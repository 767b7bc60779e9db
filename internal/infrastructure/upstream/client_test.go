package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xoracle/internal/domain"
)

func TestUpdatePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/price", r.URL.Path)
		var req updatePriceReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "18446744073709551615", req.Price)
		_, _ = w.Write([]byte(`{"value":"18446744073709551615"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second, 0)
	got, err := c.UpdatePrice(context.Background(), 18446744073709551615)
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), got)
}

func TestUpdatePriceNumericValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":100}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, time.Second, 0).UpdatePrice(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got)
}

func TestUpdatePriceFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"reverted"}`))
		},
		"missing value": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		},
		"bad value": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"value":"-1"}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, 0).UpdatePrice(context.Background(), 1)
			assert.ErrorIs(t, err, domain.ErrUpstreamCallFailed)
			var ue *domain.UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, opUpdatePrice, ue.Op)
		})
	}
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second, 0).UpdatePrice(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrUpstreamCallFailed)
}

func TestTransferOwnership(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/owner", r.URL.Path)
		var req transferOwnershipReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = req.NewOwner
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, time.Second, 0).TransferOwnership(context.Background(), "bob"))
	assert.Equal(t, "bob", got)
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":"1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0.001)
	_, err := c.UpdatePrice(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.UpdatePrice(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrUpstreamCallFailed)
}

func TestNoop(t *testing.T) {
	got, err := Noop{}.UpdatePrice(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got)

	err = Noop{}.TransferOwnership(context.Background(), "bob")
	assert.ErrorIs(t, err, domain.ErrUpstreamCallFailed)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
