package node

import (
	"github.com/Thrinadh-25/MeshIt/pkg/channel"
	"github.com/Thrinadh-25/MeshIt/pkg/mesh"
)

// The node satisfies the status API's provider contract.

// Fingerprint returns the local fingerprint.
func (n *Node) Fingerprint() string { return n.Identity.Fingerprint() }

// Nickname returns the configured nickname.
func (n *Node) Nickname() string { return n.Settings.Nickname }

// DirectPeers lists connected peer fingerprints.
func (n *Node) DirectPeers() []string { return n.router.DirectPeers() }

// Routes snapshots the routing table.
func (n *Node) Routes() []mesh.Route { return n.router.Table().Snapshot() }

// JoinedChannels lists joined channel names.
func (n *Node) JoinedChannels() []string { return n.channels.Joined() }

// AvailableChannels lists observed but unjoined channel names.
func (n *Node) AvailableChannels() []string { return n.channels.Available() }

// ChannelSnapshot returns the public state of one channel.
func (n *Node) ChannelSnapshot(name string) (channel.Channel, bool) {
	return n.channels.Snapshot(name)
}

// QueueDepths reports store-and-forward backlog per destination.
func (n *Node) QueueDepths() map[string]int {
	out := make(map[string]int)
	for _, fp := range n.pending.Destinations() {
		out[fp] = n.pending.Depth(fp)
	}
	return out
}
