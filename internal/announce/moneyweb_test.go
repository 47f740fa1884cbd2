package announce

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

const listingHTML = `<html><body>
<div class="sens-row">
  <a title="Visit Click a company for this listing"> NPN </a>
  <time>10.03.25 09:15</time>
  <a title="Go to SENS announcement" href="/sens/npn-results">Results</a>
</div>
<div class="sens-row">
  <a title="Visit Click a company for this listing">SOL</a>
  <time>10.03.2508:00</time>
  <a title="Go to SENS announcement" href="https://elsewhere.example/sol">Trading update</a>
</div>
<div class="sens-row">
  <time>10.03.25 07:00</time>
</div>
</body></html>`

func TestMoneywebSource_List(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML)
	}))
	defer srv.Close()

	s := NewMoneywebSource(srv.URL+"/list", "https://www.moneyweb.co.za/", time.Second, 0, "")
	got, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, Candidate{Key: "NPN", PublishedText: "10.03.25 09:15", Permalink: "https://www.moneyweb.co.za/sens/npn-results"}, got[0])
	assert.Equal(t, "SOL", got[1].Key)
	assert.Equal(t, "https://elsewhere.example/sol", got[1].Permalink)
}

func TestMoneywebSource_ListUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewMoneywebSource(srv.URL, srv.URL, time.Second, 0, "")
	_, err := s.List(context.Background())
	assert.Error(t, err)
}

func TestMoneywebSource_FetchPrefersPre(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pre", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div id="sens-content"><h1>Title</h1><pre>
  Line one
  Line two
</pre></div>`)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div id="sens-content"><p>First</p><p> Second <b>bold</b></p><script>x()</script></div>`)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div id="other">nothing</div>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewMoneywebSource(srv.URL, srv.URL, time.Second, time.Millisecond, "")
	ctx := context.Background()

	body, err := s.Fetch(ctx, srv.URL+"/pre")
	require.NoError(t, err)
	assert.Equal(t, "Line one\n  Line two", body)

	body, err = s.Fetch(ctx, srv.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, "First\nSecond\nbold", body)

	body, err = s.Fetch(ctx, srv.URL+"/empty")
	require.NoError(t, err)
	assert.Equal(t, noContentMsg, body)
}

func TestParsePublished(t *testing.T) {
	loc := time.FixedZone("SAST", 2*60*60)
	want := time.Date(2025, 3, 10, 9, 15, 0, 0, loc)

	for _, s := range []string{"10.03.25 09:15", "10.03.2509:15", "  10.03.25 09:15 "} {
		got, err := ParsePublished(s, loc)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
	}

	_, err := ParsePublished("2025-03-10 09:15", loc)
	assert.Error(t, err)
}
