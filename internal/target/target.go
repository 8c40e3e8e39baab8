// Package target turns user input into a lookup key for closest-node queries.
package target

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/surge-downloader/kadtable/internal/kad"
)

type Kind string

const (
	KindHex     Kind = "hex"
	KindBase58  Kind = "base58"
	KindMagnet  Kind = "magnet"
	KindTorrent Kind = "torrent"
)

// Target is a parsed lookup key and where it came from.
type Target struct {
	ID   kad.NodeID
	Kind Kind
	// Name is the display name of a magnet or torrent, if any.
	Name string
}

// Parse accepts a 40-digit hex id, a base-58 id, a magnet URI or the path of
// a .torrent file. Infohashes share the node id keyspace.
func Parse(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("empty target")
	}

	if strings.HasPrefix(strings.ToLower(raw), "magnet:") {
		return parseMagnet(raw)
	}
	if strings.HasSuffix(strings.ToLower(raw), ".torrent") {
		return parseTorrentFile(raw)
	}
	if len(raw) == 2*kad.IDLength && isHex(raw) {
		id, err := kad.ParseHex(raw)
		if err != nil {
			return Target{}, err
		}
		return Target{ID: id, Kind: KindHex}, nil
	}
	if id, err := kad.ParseBase58(raw); err == nil {
		return Target{ID: id, Kind: KindBase58}, nil
	}
	if info, err := os.Stat(raw); err == nil && !info.IsDir() {
		return parseTorrentFile(raw)
	}
	return Target{}, fmt.Errorf("unrecognised target %q: want hex id, base58 id, magnet URI or .torrent file", raw)
}

func parseMagnet(raw string) (Target, error) {
	m, err := metainfo.ParseMagnetUri(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid magnet: %w", err)
	}
	if m.InfoHash == ([20]byte{}) {
		return Target{}, fmt.Errorf("magnet has no infohash")
	}
	return Target{ID: kad.NodeID(m.InfoHash), Kind: KindMagnet, Name: m.DisplayName}, nil
}

func parseTorrentFile(path string) (Target, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return Target{}, fmt.Errorf("load torrent %s: %w", path, err)
	}
	if len(mi.InfoBytes) == 0 {
		return Target{}, fmt.Errorf("torrent %s has no info dictionary", path)
	}
	t := Target{ID: kad.NodeID(mi.HashInfoBytes()), Kind: KindTorrent}
	if info, err := mi.UnmarshalInfo(); err == nil {
		t.Name = info.BestName()
	}
	return t, nil
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
