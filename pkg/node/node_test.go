package node

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thrinadh-25/MeshIt/pkg/network"
)

// pipeLink is one end of an in-memory connection.
type pipeLink struct {
	net.Conn
	addr string
}

func (l *pipeLink) RemoteAddr() string { return l.addr }

// memNetwork connects nodes through net.Pipe so full protocol flows run
// without sockets.
type memNetwork struct {
	nodes map[string]*Node
}

// memDialer dials into the shared in-memory network on behalf of one node.
type memDialer struct {
	net       *memNetwork
	localAddr string
}

func (d *memDialer) Dial(address string) (network.Link, error) {
	target, ok := d.net.nodes[address]
	if !ok {
		return nil, fmt.Errorf("no node at %s", address)
	}
	near, far := net.Pipe()
	target.Manager().RegisterIncoming(&pipeLink{Conn: far, addr: d.localAddr})
	return &pipeLink{Conn: near, addr: address}, nil
}

func newTestNode(t *testing.T, mnet *memNetwork, addr, nick string) *Node {
	t.Helper()
	n, err := New(Config{
		DataDir:  t.TempDir(),
		Nickname: nick,
		Dialer:   &memDialer{net: mnet, localAddr: addr},
	})
	require.NoError(t, err)
	mnet.nodes[addr] = n
	n.Start()
	t.Cleanup(n.Stop)
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandshakeOnConnect(t *testing.T) {
	mnet := &memNetwork{nodes: make(map[string]*Node)}
	a := newTestNode(t, mnet, "addr-a", "alice")
	b := newTestNode(t, mnet, "addr-b", "bob")

	aPeers := make(chan string, 1)
	bPeers := make(chan string, 1)
	a.OnPeerConnected = func(fp, _ string) { aPeers <- fp }
	b.OnPeerConnected = func(fp, _ string) { bPeers <- fp }

	require.NoError(t, a.ConnectTo("addr-b"))

	select {
	case fp := <-aPeers:
		assert.Equal(t, b.Fingerprint(), fp, "A learned wrong peer identity")
	case <-time.After(3 * time.Second):
		t.Fatal("A never completed handshake")
	}
	select {
	case fp := <-bPeers:
		assert.Equal(t, a.Fingerprint(), fp, "B learned wrong peer identity")
	case <-time.After(3 * time.Second):
		t.Fatal("B never completed handshake")
	}

	assert.Contains(t, a.DirectPeers(), b.Fingerprint())
	assert.Contains(t, b.DirectPeers(), a.Fingerprint())
}

func connectPair(t *testing.T, a *Node, bAddr string) {
	t.Helper()
	require.NoError(t, a.ConnectTo(bAddr))
	waitFor(t, "handshake", func() bool { return len(a.DirectPeers()) > 0 })
}

func TestPrivateMessageOverSession(t *testing.T) {
	mnet := &memNetwork{nodes: make(map[string]*Node)}
	a := newTestNode(t, mnet, "addr-a", "alice")
	b := newTestNode(t, mnet, "addr-b", "bob")

	got := make(chan string, 1)
	b.OnDirectMessage = func(fromFP, text string) {
		if fromFP == a.Fingerprint() {
			got <- text
		}
	}

	connectPair(t, a, "addr-b")
	require.NoError(t, a.SendPrivate(b.Fingerprint(), "hello over the mesh"))

	select {
	case text := <-got:
		assert.Equal(t, "hello over the mesh", text)
	case <-time.After(3 * time.Second):
		t.Fatal("private message never arrived")
	}
}

func TestDirectTextAndAck(t *testing.T) {
	mnet := &memNetwork{nodes: make(map[string]*Node)}
	a := newTestNode(t, mnet, "addr-a", "alice")
	b := newTestNode(t, mnet, "addr-b", "bob")

	got := make(chan string, 1)
	b.OnDirectMessage = func(_, text string) { got <- text }

	connectPair(t, a, "addr-b")
	require.NoError(t, a.SendDirectText(b.Fingerprint(), "direct line"))

	select {
	case text := <-got:
		assert.Equal(t, "direct line", text)
	case <-time.After(3 * time.Second):
		t.Fatal("direct text never arrived")
	}

	// The ack flips the outgoing record to delivered.
	waitFor(t, "ack", func() bool {
		conv, err := a.history.Conversation(b.Fingerprint(), 10)
		if err != nil || len(conv) == 0 {
			return false
		}
		return conv[len(conv)-1].Status == "delivered"
	})
}

func TestChannelMessageAcrossNodes(t *testing.T) {
	mnet := &memNetwork{nodes: make(map[string]*Node)}
	a := newTestNode(t, mnet, "addr-a", "alice")
	b := newTestNode(t, mnet, "addr-b", "bob")

	got := make(chan string, 1)
	b.OnChannelMessage = func(channelName, fromNick, text string) {
		got <- channelName + "/" + fromNick + "/" + text
	}

	connectPair(t, a, "addr-b")
	require.NoError(t, a.Channels().Join("#general", ""))
	require.NoError(t, b.Channels().Join("#general", ""))

	// B learns A's nickname from the join broadcast.
	waitFor(t, "join propagation", func() bool {
		snap, ok := b.ChannelSnapshot("#general")
		return ok && snap.MemberCount >= 2
	})

	require.NoError(t, a.SendChannelMessage("#general", "hi all"))

	select {
	case s := <-got:
		assert.Equal(t, "#general/alice/hi all", s)
	case <-time.After(3 * time.Second):
		t.Fatal("channel message never arrived")
	}
}

func TestOfflineMessageQueues(t *testing.T) {
	mnet := &memNetwork{nodes: make(map[string]*Node)}
	a := newTestNode(t, mnet, "addr-a", "alice")

	ghost := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	require.NoError(t, a.SendPrivate(ghost, "anyone home?"))

	depths := a.QueueDepths()
	assert.Equal(t, 1, depths[ghost], "offline message not queued")
}

func TestTwoHopPrivateMessage(t *testing.T) {
	// A - B - C: B relays an envelope it cannot read.
	mnet := &memNetwork{nodes: make(map[string]*Node)}
	a := newTestNode(t, mnet, "addr-a", "alice")
	b := newTestNode(t, mnet, "addr-b", "bob")
	c := newTestNode(t, mnet, "addr-c", "carol")

	got := make(chan string, 1)
	c.OnDirectMessage = func(fromFP, text string) {
		if fromFP == a.Fingerprint() {
			got <- text
		}
	}

	connectPair(t, a, "addr-b")
	require.NoError(t, b.ConnectTo("addr-c"))
	waitFor(t, "b-c handshake", func() bool { return len(c.DirectPeers()) > 0 })

	require.NoError(t, a.SendPrivate(c.Fingerprint(), "through the middle"))

	select {
	case text := <-got:
		assert.Equal(t, "through the middle", text)
	case <-time.After(3 * time.Second):
		t.Fatal("relayed message never arrived")
	}
}
