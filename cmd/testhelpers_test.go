package cmd

import (
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/kadtable/internal/config"
	"github.com/surge-downloader/kadtable/internal/krpc"
	"github.com/surge-downloader/kadtable/internal/state"
)

const testToken = "test-token"

// isolateDirs points every data directory at a fresh temp dir.
func isolateDirs(t *testing.T) {
	t.Helper()
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(base, "state"))
	t.Setenv("HOME", base)
	t.Setenv("KADTABLE_TOKEN", "")
	require.NoError(t, config.EnsureDirs())

	state.CloseDB()
	state.Configure(filepath.Join(base, "census.db"))
	t.Cleanup(state.CloseDB)
}

func newTestNode(t *testing.T, timeout time.Duration) *krpc.Node {
	t.Helper()
	n, err := krpc.New(krpc.Config{ListenAddr: "127.0.0.1:0", ReadTimeout: timeout})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func newTestAPI(t *testing.T) (*krpc.Node, *httptest.Server) {
	t.Helper()
	isolateDirs(t)
	node := newTestNode(t, time.Second)
	srv := httptest.NewServer(NewAPIHandler(node, 0, 8).routes(testToken))
	t.Cleanup(srv.Close)
	return node, srv
}

func authedRequest(t *testing.T, method, url string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func deadUDPAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	return addr
}
