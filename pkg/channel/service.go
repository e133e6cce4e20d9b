// Package channel tracks IRC-style channel membership and parses the slash
// commands of the chat surface. The service owns all channel state; the
// routing engine only sees the broadcast events it emits.
package channel

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thrinadh-25/MeshIt/pkg/protocol"
)

var (
	ErrUnauthorized = errors.New("wrong channel password")
	ErrNotJoined    = errors.New("channel not joined")
)

// Channel is the tracked state of one channel, joined or merely observed.
type Channel struct {
	Name         string            `json:"name"`
	Password     string            `json:"-"`
	Members      map[string]bool   `json:"-"` // fingerprint set
	MemberNames  map[string]string `json:"-"` // fingerprint -> nickname
	MemberCount  int               `json:"memberCount"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
	IsJoined     bool              `json:"isJoined"`
}

// Broadcaster sends channel control traffic into the mesh. The router
// satisfies it.
type Broadcaster interface {
	SendChannel(channelName, text string)
	SendChannelControl(pktType byte, channelName, extraData string)
}

// Service manages channel membership for the local node.
type Service struct {
	localFP  string
	nickname func() string
	cast     Broadcaster

	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewService creates a channel service for the local identity.
func NewService(localFP string, nickname func() string, cast Broadcaster) *Service {
	return &Service{
		localFP:  localFP,
		nickname: nickname,
		cast:     cast,
		channels: make(map[string]*Channel),
	}
}

// Normalize canonicalises a channel name: trimmed, lowercased, '#'-prefixed.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return name
	}
	if !strings.HasPrefix(name, "#") {
		name = "#" + name
	}
	return name
}

// fetch returns the channel, creating it on first sight. Caller holds the
// write lock.
func (s *Service) fetch(name string) *Channel {
	ch, ok := s.channels[name]
	if !ok {
		ch = &Channel{
			Name:        name,
			Members:     make(map[string]bool),
			MemberNames: make(map[string]string),
			CreatedAt:   time.Now(),
		}
		s.channels[name] = ch
	}
	return ch
}

// Join adds the local node to a channel and broadcasts the join. A stored
// password must match.
func (s *Service) Join(name, password string) error {
	name = Normalize(name)
	if name == "" {
		return errors.New("empty channel name")
	}

	s.mu.Lock()
	ch := s.fetch(name)
	if ch.Password != "" && ch.Password != password {
		s.mu.Unlock()
		return ErrUnauthorized
	}
	if ch.Password == "" && password != "" {
		ch.Password = password
	}
	ch.Members[s.localFP] = true
	ch.MemberNames[s.localFP] = s.nickname()
	ch.MemberCount = len(ch.Members)
	ch.IsJoined = true
	ch.LastActivity = time.Now()
	s.mu.Unlock()

	s.cast.SendChannelControl(protocol.TypeChannelJoin, name, "")
	return nil
}

// Leave removes the local node from a channel and broadcasts the leave.
func (s *Service) Leave(name string) error {
	name = Normalize(name)

	s.mu.Lock()
	ch, ok := s.channels[name]
	if !ok || !ch.IsJoined {
		s.mu.Unlock()
		return ErrNotJoined
	}
	delete(ch.Members, s.localFP)
	delete(ch.MemberNames, s.localFP)
	ch.MemberCount = len(ch.Members)
	ch.IsJoined = false
	ch.LastActivity = time.Now()
	s.mu.Unlock()

	s.cast.SendChannelControl(protocol.TypeChannelLeave, name, "")
	return nil
}

// Send broadcasts a message into a joined channel.
func (s *Service) Send(name, text string) error {
	name = Normalize(name)

	s.mu.Lock()
	ch, ok := s.channels[name]
	if !ok || !ch.IsJoined {
		s.mu.Unlock()
		return ErrNotJoined
	}
	ch.LastActivity = time.Now()
	s.mu.Unlock()

	s.cast.SendChannel(name, text)
	return nil
}

// AnnounceAll broadcasts a channel-announce for every joined channel,
// carrying the current member count.
func (s *Service) AnnounceAll() {
	s.mu.RLock()
	joined := make(map[string]int)
	for name, ch := range s.channels {
		if ch.IsJoined {
			joined[name] = ch.MemberCount
		}
	}
	s.mu.RUnlock()

	for name, count := range joined {
		s.cast.SendChannelControl(protocol.TypeChannelAnnounce, name, strconv.Itoa(count))
	}
}

// HandleRemoteJoin records a remote member joining a channel.
func (s *Service) HandleRemoteJoin(name, fp, nickname string) {
	name = Normalize(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.fetch(name)
	ch.Members[fp] = true
	if nickname != "" {
		ch.MemberNames[fp] = nickname
	}
	ch.MemberCount = len(ch.Members)
	ch.LastActivity = time.Now()
}

// HandleRemoteLeave records a remote member leaving a channel.
func (s *Service) HandleRemoteLeave(name, fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[Normalize(name)]
	if !ok {
		return
	}
	delete(ch.Members, fp)
	delete(ch.MemberNames, fp)
	ch.MemberCount = len(ch.Members)
	ch.LastActivity = time.Now()
}

// HandleRemoteAnnounce records an announced channel so it shows up in the
// available list; the member count is taken at face value for channels we
// have not joined.
func (s *Service) HandleRemoteAnnounce(name string, memberCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.fetch(Normalize(name))
	if !ch.IsJoined {
		ch.MemberCount = memberCount
	}
	ch.LastActivity = time.Now()
}

// HandleRemoteMessage stamps channel activity for an incoming message.
func (s *Service) HandleRemoteMessage(name, fp, nickname string) {
	name = Normalize(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.fetch(name)
	ch.Members[fp] = true
	if nickname != "" {
		ch.MemberNames[fp] = nickname
	}
	ch.MemberCount = len(ch.Members)
	ch.LastActivity = time.Now()
}

// Joined returns the names of all joined channels, sorted.
func (s *Service) Joined() []string {
	return s.list(true)
}

// Available returns the names of observed channels not yet joined, sorted.
func (s *Service) Available() []string {
	return s.list(false)
}

func (s *Service) list(joined bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for name, ch := range s.channels {
		if ch.IsJoined == joined {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Members returns the nickname map for a channel.
func (s *Service) Members(name string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[Normalize(name)]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(ch.MemberNames))
	for fp, nick := range ch.MemberNames {
		out[fp] = nick
	}
	return out
}

// Snapshot returns a copy of a channel's public state.
func (s *Service) Snapshot(name string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[Normalize(name)]
	if !ok {
		return Channel{}, false
	}
	return Channel{
		Name:         ch.Name,
		MemberCount:  ch.MemberCount,
		CreatedAt:    ch.CreatedAt,
		LastActivity: ch.LastActivity,
		IsJoined:     ch.IsJoined,
	}, true
}
