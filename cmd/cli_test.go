package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/kadtable/internal/config"
	"github.com/surge-downloader/kadtable/internal/kad"
	"github.com/surge-downloader/kadtable/internal/krpc"
	"github.com/surge-downloader/kadtable/internal/state"
	"github.com/surge-downloader/kadtable/internal/target"
)

func TestActivePortFile(t *testing.T) {
	isolateDirs(t)

	assert.Zero(t, readActivePort())
	saveActivePort(1751)
	assert.Equal(t, 1751, readActivePort())
	removeActivePort()
	assert.Zero(t, readActivePort())

	require.NoError(t, os.WriteFile(filepath.Join(config.GetKadtableDir(), "port"), []byte("junk"), 0o644))
	assert.Zero(t, readActivePort())
}

func connCommand(host, token string) *cobra.Command {
	c := &cobra.Command{}
	c.Flags().String("host", host, "")
	c.Flags().String("token", token, "")
	return c
}

func TestResolveAPIConnection(t *testing.T) {
	isolateDirs(t)

	_, _, err := resolveAPIConnection(connCommand("", ""))
	assert.Error(t, err, "no port file and no host")

	saveActivePort(1760)
	local := ensureAuthToken()
	base, token, err := resolveAPIConnection(connCommand("", ""))
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:1760", base)
	assert.Equal(t, local, token)

	base, token, err = resolveAPIConnection(connCommand("127.0.0.1:9000", "flag-token"))
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000", base)
	assert.Equal(t, "flag-token", token)

	_, _, err = resolveAPIConnection(connCommand("10.0.0.5:1750", ""))
	assert.Error(t, err, "local token must not be sent to remote hosts")

	t.Setenv("KADTABLE_TOKEN", "env-token")
	_, token, err = resolveAPIConnection(connCommand("10.0.0.5:1750", ""))
	require.NoError(t, err)
	assert.Equal(t, "env-token", token)
}

func TestAcquireLock(t *testing.T) {
	isolateDirs(t)
	t.Cleanup(func() { _ = ReleaseLock() })

	ok, err := AcquireLock()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = AcquireLock()
	require.NoError(t, err)
	assert.True(t, ok, "re-acquiring in the same process is a no-op")

	other := flock.New(filepath.Join(config.GetStateDir(), "kadtable.lock"))
	locked, err := other.TryLock()
	require.NoError(t, err)
	assert.False(t, locked, "second holder must be refused")

	require.NoError(t, ReleaseLock())
	locked, err = other.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, other.Unlock())
}

func TestFormatCensus(t *testing.T) {
	out := formatCensus(CensusResponse{
		NodeID:  "00ff",
		K:       8,
		Size:    11,
		Buckets: map[int]int{157: 3, 159: 8},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "node 00ff  k=8  entries=11  buckets=2", lines[0])
	assert.Equal(t, " 159  8/8", lines[1])
	assert.Equal(t, " 157  3/8", lines[2])
}

func TestPrintEntriesAndClosest(t *testing.T) {
	var id kad.NodeID
	id[0] = 0xaa
	view := EntryView{
		Entry:    kad.Entry{ID: id, Addr: kad.Address{Host: "10.0.0.1", Port: 6881}, LastSeen: time.Now()},
		Bucket:   159,
		Distance: id.Hex(),
	}

	var buf bytes.Buffer
	printEntries(&buf, []EntryView{view})
	assert.Contains(t, buf.String(), id.Hex())
	assert.Contains(t, buf.String(), "10.0.0.1:6881")
	assert.Contains(t, buf.String(), "1 entries")

	buf.Reset()
	printEntries(&buf, nil)
	assert.Equal(t, "Routing table is empty.\n", buf.String())

	buf.Reset()
	printClosest(&buf, []EntryView{view})
	assert.Contains(t, buf.String(), "DISTANCE")
	assert.Contains(t, buf.String(), "159")

	buf.Reset()
	printClosest(&buf, nil)
	assert.Equal(t, "No entries.\n", buf.String())
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil)
	assert.Contains(t, buf.String(), "No census samples")

	buf.Reset()
	printHistory(&buf, []state.Sample{
		{TakenAt: time.Now().Add(-time.Minute), Size: 11, Buckets: map[int]int{157: 3, 159: 8}},
		{TakenAt: time.Now(), Size: 0, Buckets: map[int]int{}},
	})
	out := buf.String()
	assert.Contains(t, out, "159 (8)")
	assert.Contains(t, out, "ago")
}

func TestPrintIDAndDistance(t *testing.T) {
	a, err := kad.ParseHex("0000000000000000000000000000000000000001")
	require.NoError(t, err)
	b, err := kad.ParseHex("8000000000000000000000000000000000000001")
	require.NoError(t, err)

	var buf bytes.Buffer
	printDistance(&buf, a, b)
	out := buf.String()
	assert.Contains(t, out, "distance: 8000000000000000000000000000000000000000")
	assert.Contains(t, out, "bits:     160")
	assert.Contains(t, out, "bucket:   159")

	buf.Reset()
	printDistance(&buf, a, a)
	assert.Contains(t, buf.String(), "bucket:   -1")

	buf.Reset()
	printID(&buf, target.Target{ID: a, Kind: target.KindHex})
	assert.Contains(t, buf.String(), "integer: 1\n")
	assert.Contains(t, buf.String(), "base58:  "+a.Base58())
}

func TestApplyServeFlags(t *testing.T) {
	s := config.DefaultSettings()
	c := &cobra.Command{}
	addServeFlags(c)
	require.NoError(t, c.ParseFlags([]string{
		"--listen", "127.0.0.1:7000",
		"--k", "20",
		"--no-probe",
		"--bootstrap", "a.example:1,b.example:2",
		"--id", "0000000000000000000000000000000000000001",
	}))

	id, err := applyServeFlags(c, s)
	require.NoError(t, err)
	assert.Equal(t, "0000000000000000000000000000000000000001", id.Hex())
	assert.Equal(t, "127.0.0.1:7000", s.Network.ListenAddr)
	assert.Equal(t, 20, s.Table.K)
	assert.False(t, s.Network.ProbeOldest)
	assert.Equal(t, []string{"a.example:1", "b.example:2"}, s.Network.Bootstrap)
	assert.Zero(t, s.API.Port, "unset flags keep settings")

	bad := &cobra.Command{}
	addServeFlags(bad)
	require.NoError(t, bad.ParseFlags([]string{"--id", "xyz"}))
	_, err = applyServeFlags(bad, config.DefaultSettings())
	assert.Error(t, err)
}

func TestRunServe(t *testing.T) {
	isolateDirs(t)

	seed := newTestNode(t, time.Second)

	s := config.DefaultSettings()
	s.Network.ListenAddr = "127.0.0.1:0"
	s.Network.Bootstrap = []string{seed.LocalAddr().String()}
	s.Network.ReadTimeout = time.Second
	s.Table.CensusInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readyCh := make(chan int, 1)
	var node *krpc.Node
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, s, kad.NodeID{}, func(n *krpc.Node, port int) {
			node = n
			readyCh <- port
		})
	}()

	var port int
	select {
	case port = <-readyCh:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not become ready")
	}
	assert.Equal(t, port, readActivePort())

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return node.Table().Contains(seed.ID())
	}, 3*time.Second, 20*time.Millisecond, "bootstrap should add the seed")

	require.Eventually(t, func() bool {
		samples, err := state.ListCensus(1)
		return err == nil && len(samples) == 1 && samples[0].Size >= 1
	}, 3*time.Second, 20*time.Millisecond, "census recorder should store samples")

	var census CensusResponse
	require.NoError(t, getJSON(http.MethodGet, base, readAuthToken(), "/census", &census))
	assert.Equal(t, node.ID().Hex(), census.NodeID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Zero(t, readActivePort(), "port file removed on exit")
}
