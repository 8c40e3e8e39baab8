package cmd

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/kadtable/internal/kad"
	"github.com/surge-downloader/kadtable/internal/krpc"
	"github.com/surge-downloader/kadtable/internal/state"
)

func fillTable(t *testing.T, table *kad.RoutingTable, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id, err := kad.Random()
		require.NoError(t, err)
		table.Add(id, kad.Address{Host: "10.0.0.1", Port: 2000 + i})
	}
}

func TestHealthIsPublic(t *testing.T) {
	node, srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, node.ID().Hex(), body["id"])
}

func TestAuthRequired(t *testing.T) {
	_, srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/entries")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/entries", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ok := authedRequest(t, http.MethodGet, srv.URL+"/entries", nil)
	assert.Equal(t, http.StatusOK, ok.StatusCode)
}

func TestClosestEndpoint(t *testing.T) {
	node, srv := newTestAPI(t)
	fillTable(t, node.Table(), 40)

	target, err := kad.Random()
	require.NoError(t, err)
	want := node.Table().Closest(target, 3)

	resp := authedRequest(t, http.MethodGet, srv.URL+"/closest?k=3&target="+target.Hex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ClosestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, target.Hex(), body.Target)
	require.Len(t, body.Entries, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, body.Entries[i].ID)
		assert.Equal(t, want[i].ID.Distance(target).Hex(), body.Entries[i].Distance)
		assert.Equal(t, node.Table().BucketIndex(want[i].ID), body.Entries[i].Bucket)
	}
}

func TestClosestDefaultsAndMagnet(t *testing.T) {
	node, srv := newTestAPI(t)
	fillTable(t, node.Table(), 40)

	hash := "0123456789abcdef0123456789abcdef01234567"
	magnet := url.QueryEscape("magnet:?xt=urn:btih:" + hash + "&dn=x")
	resp := authedRequest(t, http.MethodGet, srv.URL+"/closest?target="+magnet, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ClosestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, hash, body.Target)
	assert.Equal(t, "magnet", string(body.Kind))
	assert.Len(t, body.Entries, 8, "closest count from handler config")

	zero := authedRequest(t, http.MethodGet, srv.URL+"/closest?k=0&target="+hash, nil)
	require.Equal(t, http.StatusOK, zero.StatusCode)
	var empty ClosestResponse
	require.NoError(t, json.NewDecoder(zero.Body).Decode(&empty))
	assert.Empty(t, empty.Entries)
}

func TestClosestRejectsBadInput(t *testing.T) {
	_, srv := newTestAPI(t)

	cases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/closest", http.StatusBadRequest},
		{http.MethodGet, "/closest?target=nope!", http.StatusBadRequest},
		{http.MethodGet, "/closest?target=0123456789abcdef0123456789abcdef01234567&k=-1", http.StatusBadRequest},
		{http.MethodGet, "/closest?target=0123456789abcdef0123456789abcdef01234567&k=x", http.StatusBadRequest},
		{http.MethodPost, "/closest?target=0123456789abcdef0123456789abcdef01234567", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		resp := authedRequest(t, tc.method, srv.URL+tc.path, nil)
		assert.Equal(t, tc.status, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestCensusNegotiation(t *testing.T) {
	node, srv := newTestAPI(t)
	fillTable(t, node.Table(), 20)

	resp := authedRequest(t, http.MethodGet, srv.URL+"/census", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var body CensusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, node.Table().Size(), body.Size)
	assert.Equal(t, node.Table().Census(), body.Buckets)
	assert.Equal(t, 8, body.K)

	text := authedRequest(t, http.MethodGet, srv.URL+"/census", http.Header{"Accept": {"text/plain"}})
	require.Equal(t, http.StatusOK, text.StatusCode)
	assert.Contains(t, text.Header.Get("Content-Type"), "text/plain")
	data, err := io.ReadAll(text.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "node "+node.ID().Hex()))

	mixed := authedRequest(t, http.MethodGet, srv.URL+"/census",
		http.Header{"Accept": {"text/plain;q=0.5, application/json"}})
	assert.Contains(t, mixed.Header.Get("Content-Type"), "application/json")
}

func TestEntriesEndpoint(t *testing.T) {
	node, srv := newTestAPI(t)
	fillTable(t, node.Table(), 5)

	resp := authedRequest(t, http.MethodGet, srv.URL+"/entries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []EntryView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, node.Table().Size())
	for _, e := range entries {
		assert.True(t, node.Table().Contains(e.ID))
		assert.Equal(t, node.Table().BucketIndex(e.ID), e.Bucket)
		assert.Empty(t, e.Distance)
	}
}

func TestPingEndpoint(t *testing.T) {
	node, srv := newTestAPI(t)
	peer := newTestNode(t, time.Second)

	resp := authedRequest(t, http.MethodPost, srv.URL+"/ping?addr="+url.QueryEscape(peer.LocalAddr().String()), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, peer.ID().Hex(), body["id"])
	assert.Equal(t, true, body["added"])
	assert.True(t, node.Table().Contains(peer.ID()))
}

func TestPingEndpointErrors(t *testing.T) {
	isolateDirs(t)
	node := newTestNode(t, 100*time.Millisecond)
	srv := httptest.NewServer(NewAPIHandler(node, 0, 8).routes(testToken))
	defer srv.Close()

	resp := authedRequest(t, http.MethodPost, srv.URL+"/ping?addr="+url.QueryEscape(deadUDPAddr(t)), nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	missing := authedRequest(t, http.MethodPost, srv.URL+"/ping", nil)
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)

	get := authedRequest(t, http.MethodGet, srv.URL+"/ping?addr=127.0.0.1:1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestPingEndpointErrorReply(t *testing.T) {
	_, srv := newTestAPI(t)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	go func() {
		buf := make([]byte, 1500)
		nr, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg, err := krpc.DecodeMessage(buf[:nr])
		if err != nil {
			return
		}
		out, _ := krpc.EncodeMessage(&krpc.Message{T: msg.T, Y: "e", E: &krpc.Error{Code: krpc.ErrCodeServer, Msg: "busy"}})
		_, _ = conn.WriteToUDP(out, from)
	}()

	resp := authedRequest(t, http.MethodPost, srv.URL+"/ping?addr="+url.QueryEscape(conn.LocalAddr().String()), nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "busy")
}

func TestRemoveEndpoint(t *testing.T) {
	node, srv := newTestAPI(t)

	id, err := kad.Random()
	require.NoError(t, err)
	require.True(t, node.Table().Add(id, kad.Address{Host: "10.0.0.9", Port: 1}))

	resp := authedRequest(t, http.MethodPost, srv.URL+"/remove?id="+id.Hex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, node.Table().Contains(id))

	again := authedRequest(t, http.MethodPost, srv.URL+"/remove?id="+id.Hex(), nil)
	assert.Equal(t, http.StatusNotFound, again.StatusCode)

	bad := authedRequest(t, http.MethodPost, srv.URL+"/remove?id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	magnet := authedRequest(t, http.MethodPost, srv.URL+"/remove?id="+url.QueryEscape("magnet:?xt=urn:btih:"+id.Hex()), nil)
	assert.Equal(t, http.StatusBadRequest, magnet.StatusCode)
}

func TestHistoryEndpoint(t *testing.T) {
	node, srv := newTestAPI(t)
	fillTable(t, node.Table(), 3)

	empty := authedRequest(t, http.MethodGet, srv.URL+"/history", nil)
	require.Equal(t, http.StatusOK, empty.StatusCode)
	var none []state.Sample
	require.NoError(t, json.NewDecoder(empty.Body).Decode(&none))
	assert.NotNil(t, none)
	assert.Empty(t, none)

	recordCensus(node, time.Now(), 10)

	resp := authedRequest(t, http.MethodGet, srv.URL+"/history?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var samples []state.Sample
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&samples))
	require.Len(t, samples, 1)
	assert.Equal(t, node.Table().Size(), samples[0].Size)
	assert.Equal(t, node.ID().Hex(), samples[0].NodeID)
}

func TestEnsureAuthTokenPersists(t *testing.T) {
	isolateDirs(t)

	assert.Empty(t, readAuthToken())
	first := ensureAuthToken()
	require.NotEmpty(t, first)
	assert.Equal(t, first, ensureAuthToken())
	assert.Equal(t, first, readAuthToken())

	info, err := os.Stat(tokenPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
