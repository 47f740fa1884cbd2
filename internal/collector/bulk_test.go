package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkProvider_WideDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/bars/daily", r.URL.Path)
		assert.Equal(t, "A.JO,B.JO", r.URL.Query().Get("symbols"))
		assert.Equal(t, "2025-03-10", r.URL.Query().Get("from"))
		assert.Equal(t, "2025-03-11", r.URL.Query().Get("to"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"dates":["2025-03-10","2025-03-11"],"columns":{
			"Open":{"A.JO":[10,11],"B.JO":[20,null]},
			"High":{"A.JO":[12,13],"B.JO":[22,null]},
			"Low":{"A.JO":[9,10],"B.JO":[19,null]},
			"Close":{"A.JO":[11.9,12],"B.JO":[21,null]},
			"Adj Close":{"A.JO":[1,1]}}}`)
	}))
	defer srv.Close()

	p := NewBulkProvider(srv.URL+"/", "k", time.Second, "")
	r := RangeSpec{
		Kind:  RangeRolling,
		Start: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
	}
	f, err := p.Download(context.Background(), []string{"A.JO", "B.JO"}, r)
	require.NoError(t, err)
	_, ok := f.(WideFrame)
	require.True(t, ok, "want WideFrame, got %T", f)

	bars, err := Normalize(f, []string{"A.JO", "B.JO"}, 1)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, int64(11), bars[0].Close)
	assert.Equal(t, "B.JO", bars[2].Ticker)
}

func TestBulkProvider_UndecodableBodyIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>maintenance</html>")
	}))
	defer srv.Close()

	p := NewBulkProvider(srv.URL, "", time.Second, "")
	f, err := p.Download(context.Background(), []string{"A.JO"}, RangeSpec{Kind: RangeFull, Period: "5y"})
	require.NoError(t, err)
	assert.IsType(t, MalformedFrame{}, f)
}

func TestBulkProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewBulkProvider(srv.URL, "", time.Second, "")
	_, err := p.Download(context.Background(), []string{"A.JO"}, RangeSpec{Kind: RangeFull, Period: "5y"})
	assert.Error(t, err)
}
