package subscription

import (
	"fmt"
	"sort"
	"sync"

	"gasfeed/internal/domain"
)

// Stats is a point-in-time size of the registry.
type Stats struct {
	Connections int `json:"connections"`
	Topics      int `json:"topics"`
	Memberships int `json:"memberships"`
}

// Registry maps topics to the connections subscribed to them.
// members and topics are inverse views of the same relation; byNetwork indexes
// the non-empty topics of each network. All three change under one lock.
type Registry struct {
	mu        sync.RWMutex
	members   map[domain.Topic]map[string]struct{}
	topics    map[string]map[domain.Topic]struct{}
	byNetwork map[string]map[domain.Topic]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		members:   make(map[domain.Topic]map[string]struct{}),
		topics:    make(map[string]map[domain.Topic]struct{}),
		byNetwork: make(map[string]map[domain.Topic]struct{}),
	}
}

// Subscribe adds connID to topic. It reports false when the membership already existed.
func (r *Registry) Subscribe(connID string, topic domain.Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.members[topic]
	if !ok {
		conns = make(map[string]struct{})
		r.members[topic] = conns
		nt, ok := r.byNetwork[topic.Network]
		if !ok {
			nt = make(map[domain.Topic]struct{})
			r.byNetwork[topic.Network] = nt
		}
		nt[topic] = struct{}{}
	}
	if _, exists := conns[connID]; exists {
		return false
	}
	conns[connID] = struct{}{}

	ts, ok := r.topics[connID]
	if !ok {
		ts = make(map[domain.Topic]struct{})
		r.topics[connID] = ts
	}
	ts[topic] = struct{}{}
	return true
}

// Unsubscribe removes connID from topic. It reports false when there was nothing to remove.
func (r *Registry) Unsubscribe(connID string, topic domain.Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connID, topic)
}

// RemoveConnection drops every membership of connID and returns the topics it left.
func (r *Registry) RemoveConnection(connID string) []domain.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.topics[connID]
	left := make([]domain.Topic, 0, len(ts))
	for t := range ts {
		left = append(left, t)
	}
	for _, t := range left {
		r.removeLocked(connID, t)
	}
	sortTopics(left)
	return left
}

func (r *Registry) removeLocked(connID string, topic domain.Topic) bool {
	conns, ok := r.members[topic]
	if !ok {
		return false
	}
	if _, exists := conns[connID]; !exists {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.members, topic)
		if nt, ok := r.byNetwork[topic.Network]; ok {
			delete(nt, topic)
			if len(nt) == 0 {
				delete(r.byNetwork, topic.Network)
			}
		}
	}

	if ts, ok := r.topics[connID]; ok {
		delete(ts, topic)
		if len(ts) == 0 {
			delete(r.topics, connID)
		}
	}
	return true
}

// MembersOf returns the connections subscribed to topic, sorted.
func (r *Registry) MembersOf(topic domain.Topic) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.members[topic]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TopicsFor returns the non-empty topics of network.
func (r *Registry) TopicsFor(network string) []domain.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nt := r.byNetwork[network]
	out := make([]domain.Topic, 0, len(nt))
	for t := range nt {
		out = append(out, t)
	}
	sortTopics(out)
	return out
}

// TopicsOf returns the topics connID is subscribed to.
func (r *Registry) TopicsOf(connID string) []domain.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts := r.topics[connID]
	out := make([]domain.Topic, 0, len(ts))
	for t := range ts {
		out = append(out, t)
	}
	sortTopics(out)
	return out
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conns := range r.members {
		n += len(conns)
	}
	return Stats{Connections: len(r.topics), Topics: len(r.members), Memberships: n}
}

// Verify checks that the three indexes describe the same relation.
func (r *Registry) Verify() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	forward := 0
	for topic, conns := range r.members {
		if len(conns) == 0 {
			return fmt.Errorf("%w: empty member set for %s", domain.ErrRegistryInconsistency, topic)
		}
		if _, ok := r.byNetwork[topic.Network][topic]; !ok {
			return fmt.Errorf("%w: %s missing from network index", domain.ErrRegistryInconsistency, topic)
		}
		for id := range conns {
			if _, ok := r.topics[id][topic]; !ok {
				return fmt.Errorf("%w: %s in %s but not in its topic set", domain.ErrRegistryInconsistency, id, topic)
			}
			forward++
		}
	}

	inverse := 0
	for id, ts := range r.topics {
		if len(ts) == 0 {
			return fmt.Errorf("%w: empty topic set for %s", domain.ErrRegistryInconsistency, id)
		}
		inverse += len(ts)
	}
	if forward != inverse {
		return fmt.Errorf("%w: %d memberships vs %d inverse entries", domain.ErrRegistryInconsistency, forward, inverse)
	}

	indexed := 0
	for network, nt := range r.byNetwork {
		for t := range nt {
			if t.Network != network {
				return fmt.Errorf("%w: %s indexed under %s", domain.ErrRegistryInconsistency, t, network)
			}
			if _, ok := r.members[t]; !ok {
				return fmt.Errorf("%w: %s indexed without members", domain.ErrRegistryInconsistency, t)
			}
			indexed++
		}
	}
	if indexed != len(r.members) {
		return fmt.Errorf("%w: %d indexed topics vs %d topics", domain.ErrRegistryInconsistency, indexed, len(r.members))
	}
	return nil
}

func sortTopics(ts []domain.Topic) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Network != ts[j].Network {
			return ts[i].Network < ts[j].Network
		}
		return ts[i].SubjectID < ts[j].SubjectID
	})
}
