package krpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/surge-downloader/kadtable/internal/kad"
	"github.com/surge-downloader/kadtable/internal/utils"
)

var (
	ErrTimeout = errors.New("krpc timeout")
	// ErrIDMismatch means a different node answered at a known entry's address.
	ErrIDMismatch = errors.New("krpc responder id mismatch")
)

type Config struct {
	// ID is the local node id; a random one is generated when zero.
	ID           kad.NodeID
	ListenAddr   string
	Bootstrap    []string
	K            int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxFailures is how many consecutive timeouts remove an entry.
	MaxFailures int
	// ProbeOldest pings a full bucket's oldest entry when a newcomer is refused.
	ProbeOldest bool
}

type Node struct {
	id    kad.NodeID
	conn  *net.UDPConn
	cfg   Config
	table *kad.RoutingTable

	mu      sync.Mutex
	pending map[string]chan *Message
	probing map[int]bool
	tid     atomic.Uint32

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config) (*Node, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:0"
	}
	if cfg.K <= 0 {
		cfg.K = kad.DefaultK
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	id := cfg.ID
	if id.IsZero() {
		id, err = kad.Random()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	n := &Node{
		id:      id,
		conn:    conn,
		cfg:     cfg,
		table:   kad.NewRoutingTable(id, cfg.K),
		pending: make(map[string]chan *Message),
		probing: make(map[int]bool),
		closed:  make(chan struct{}),
	}
	n.wg.Add(1)
	go n.readLoop()
	utils.Debug("dht: node %s listening on %s", id.Short(), conn.LocalAddr())
	return n, nil
}

func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.closed)
		err = n.conn.Close()
		n.wg.Wait()
	})
	return err
}

func (n *Node) ID() kad.NodeID {
	return n.id
}

func (n *Node) LocalAddr() *net.UDPAddr {
	return n.conn.LocalAddr().(*net.UDPAddr)
}

func (n *Node) Table() *kad.RoutingTable {
	return n.table
}

// Bootstrap pings every configured address once and returns how many answered.
// Replies populate the table through the normal observation path.
func (n *Node) Bootstrap(ctx context.Context) int {
	reached := 0
	for _, host := range n.cfg.Bootstrap {
		addr, err := net.ResolveUDPAddr("udp", host)
		if err != nil {
			utils.Debug("dht: bad bootstrap address %q: %v", host, err)
			continue
		}
		if _, err := n.Ping(ctx, addr); err != nil {
			utils.Debug("dht: bootstrap %s: %v", host, err)
			continue
		}
		reached++
	}
	return reached
}

func (n *Node) Ping(ctx context.Context, addr *net.UDPAddr) (kad.NodeID, error) {
	return n.ping(ctx, addr, kad.NodeID{})
}

func (n *Node) ping(ctx context.Context, addr *net.UDPAddr, want kad.NodeID) (kad.NodeID, error) {
	id, _, err := n.checkedPing(ctx, addr, want)
	return id, err
}

// checkedPing expects a reply from want when it is non-zero. A timeout or a
// reply from another node then counts as a failure against want; removed
// reports whether that failure took want out of the table.
func (n *Node) checkedPing(ctx context.Context, addr *net.UDPAddr, want kad.NodeID) (id kad.NodeID, removed bool, err error) {
	msg := &Message{
		Y: krpcQuery,
		Q: methodPing,
		A: &Args{ID: string(n.id[:])},
	}
	resp, err := n.exchange(ctx, addr, msg)
	if err != nil {
		if errors.Is(err, ErrTimeout) && !want.IsZero() {
			removed = n.recordFailure(want)
		}
		return kad.NodeID{}, removed, err
	}
	id, err = senderID(resp)
	if err != nil {
		return kad.NodeID{}, false, err
	}
	if !want.IsZero() && id != want {
		removed = n.recordFailure(want)
		return id, removed, fmt.Errorf("%w: expected %s, got %s", ErrIDMismatch, want.Short(), id.Short())
	}
	return id, false, nil
}

// FindNode asks addr for its closest nodes to target. The returned contacts
// are not added to the table; only nodes that talk to us directly are.
func (n *Node) FindNode(ctx context.Context, addr *net.UDPAddr, target kad.NodeID) ([]Contact, error) {
	msg := &Message{
		Y: krpcQuery,
		Q: methodFindNode,
		A: &Args{ID: string(n.id[:]), Target: string(target[:])},
	}
	resp, err := n.exchange(ctx, addr, msg)
	if err != nil {
		return nil, err
	}
	return contactsFromNodes(resp.R.Nodes), nil
}

// staleParallelism bounds concurrent pings during CheckStale.
const staleParallelism = 8

// CheckStale pings entries not heard from within maxAge. Entries that keep
// timing out are removed once they reach MaxFailures. It returns the number
// of entries removed.
func (n *Node) CheckStale(ctx context.Context, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	sem := semaphore.NewWeighted(staleParallelism)
	g, gctx := errgroup.WithContext(ctx)
	var count atomic.Int32

	for _, e := range n.table.Entries() {
		if e.LastSeen.After(cutoff) {
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		e := e
		g.Go(func() error {
			defer sem.Release(1)
			addr, err := e.Addr.UDPAddr()
			if err != nil {
				if n.table.Remove(e.ID) {
					count.Add(1)
				}
				return nil
			}
			if _, removed, _ := n.checkedPing(gctx, addr, e.ID); removed {
				count.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(count.Load())
}

func (n *Node) newTID() string {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(n.tid.Add(1)))
	return string(b[:])
}

func (n *Node) exchange(ctx context.Context, addr *net.UDPAddr, msg *Message) (*Message, error) {
	ch := make(chan *Message, 1)
	n.mu.Lock()
	msg.T = n.newTID()
	for n.pending[msg.T] != nil {
		msg.T = n.newTID()
	}
	n.pending[msg.T] = ch
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.pending, msg.T)
		n.mu.Unlock()
	}()

	if err := n.send(addr, msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(n.cfg.ReadTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Y == krpcError {
			if resp.E != nil {
				return nil, resp.E
			}
			return nil, &Error{Code: ErrCodeGeneric, Msg: "empty error"}
		}
		if resp.R == nil {
			return nil, fmt.Errorf("krpc response without body")
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.closed:
		return nil, net.ErrClosed
	}
}

func (n *Node) send(addr *net.UDPAddr, msg *Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	_ = n.conn.SetWriteDeadline(time.Now().Add(n.cfg.WriteTimeout))
	_, err = n.conn.WriteToUDP(data, addr)
	return err
}

// recordFailure reports whether id was removed.
func (n *Node) recordFailure(id kad.NodeID) bool {
	count, ok := n.table.MarkFailed(id)
	if !ok {
		return false
	}
	utils.Debug("dht: %s failed %d/%d", id.Short(), count, n.cfg.MaxFailures)
	if count < n.cfg.MaxFailures {
		return false
	}
	removed := n.table.Remove(id)
	if removed {
		utils.Debug("dht: removed unreachable %s", id.Short())
	}
	return removed
}

// observe is called for every validated message from a peer.
func (n *Node) observe(id kad.NodeID, addr *net.UDPAddr) {
	if id == n.id {
		return
	}
	a := kad.AddressFromUDP(addr)
	if n.table.Add(id, a) {
		return
	}
	if n.cfg.ProbeOldest {
		n.probeOldest(id, a)
	}
}

// probeOldest pings the oldest entry of the bucket that refused newcomer. If
// the oldest entry stops answering it is removed and newcomer takes its slot.
func (n *Node) probeOldest(newcomer kad.NodeID, addr kad.Address) {
	idx := n.table.BucketIndex(newcomer)
	n.mu.Lock()
	if n.probing[idx] {
		n.mu.Unlock()
		return
	}
	n.probing[idx] = true
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			n.mu.Lock()
			delete(n.probing, idx)
			n.mu.Unlock()
		}()

		oldest, ok := n.table.Oldest(idx)
		if !ok {
			n.table.Add(newcomer, addr)
			return
		}
		target, err := oldest.Addr.UDPAddr()
		if err != nil {
			n.table.Remove(oldest.ID)
			n.table.Add(newcomer, addr)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-n.closed:
				cancel()
			case <-ctx.Done():
			}
		}()

		for attempt := 0; attempt < n.cfg.MaxFailures; attempt++ {
			_, removed, err := n.checkedPing(ctx, target, oldest.ID)
			if err == nil {
				return
			}
			if !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrIDMismatch) {
				return
			}
			if removed || !n.table.Contains(oldest.ID) {
				if n.table.Add(newcomer, addr) {
					utils.Debug("dht: %s replaced %s in bucket %d", newcomer.Short(), oldest.ID.Short(), idx)
				}
				return
			}
		}
	}()
}

func (n *Node) readLoop() {
	defer n.wg.Done()
	buf := make([]byte, 4096)
	for {
		select {
		case <-n.closed:
			return
		default:
		}
		_ = n.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		nr, addr, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		msg, err := DecodeMessage(buf[:nr])
		if err != nil || msg.T == "" {
			continue
		}
		if msg.Y == krpcQuery {
			n.handleQuery(msg, addr)
			continue
		}

		n.mu.Lock()
		ch := n.pending[msg.T]
		n.mu.Unlock()
		if ch == nil {
			continue
		}
		if id, err := senderID(msg); err == nil {
			n.observe(id, addr)
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

func (n *Node) handleQuery(msg *Message, addr *net.UDPAddr) {
	sender, err := senderID(msg)
	if err != nil {
		n.replyError(msg.T, addr, ErrCodeProtocol, "invalid id")
		return
	}

	switch msg.Q {
	case methodPing:
		n.reply(msg.T, addr, &Return{ID: string(n.id[:])})
	case methodFindNode, methodGetPeers:
		raw := msg.A.Target
		if msg.Q == methodGetPeers {
			raw = msg.A.InfoHash
		}
		target, err := kad.New([]byte(raw))
		if err != nil {
			n.replyError(msg.T, addr, ErrCodeProtocol, "invalid target")
			return
		}
		closest := n.table.Closest(target, n.cfg.K)
		n.reply(msg.T, addr, &Return{
			ID:    string(n.id[:]),
			Nodes: compactNodes(closest),
		})
	default:
		n.replyError(msg.T, addr, ErrCodeMethodUnknown, "Method Unknown")
	}

	n.observe(sender, addr)
}

func (n *Node) reply(tid string, addr *net.UDPAddr, r *Return) {
	resp := &Message{T: tid, Y: krpcResponse, R: r}
	if err := n.send(addr, resp); err != nil {
		utils.Debug("dht: reply to %s: %v", addr, err)
	}
}

func (n *Node) replyError(tid string, addr *net.UDPAddr, code int, text string) {
	resp := &Message{T: tid, Y: krpcError, E: &Error{Code: code, Msg: text}}
	if err := n.send(addr, resp); err != nil {
		utils.Debug("dht: error reply to %s: %v", addr, err)
	}
}
