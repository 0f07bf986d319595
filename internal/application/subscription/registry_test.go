package subscription

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"gasfeed/internal/domain"
)

func TestRegistrySubscribeIsIdempotent(t *testing.T) {
	r := NewRegistry()
	topic := domain.Topic{Network: "ethereum"}

	if !r.Subscribe("c1", topic) {
		t.Fatalf("first subscribe should add membership")
	}
	if r.Subscribe("c1", topic) {
		t.Fatalf("second subscribe should be a no-op")
	}

	members := r.MembersOf(topic)
	if len(members) != 1 || members[0] != "c1" {
		t.Fatalf("unexpected members: %v", members)
	}
	if err := r.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestRegistryUnsubscribeDropsEmptyTopics(t *testing.T) {
	r := NewRegistry()
	topic := domain.Topic{Network: "polygon", SubjectID: "pet-1"}

	r.Subscribe("c1", topic)
	if !r.Unsubscribe("c1", topic) {
		t.Fatalf("expected unsubscribe to remove membership")
	}
	if r.Unsubscribe("c1", topic) {
		t.Fatalf("unsubscribing twice should report false")
	}
	if got := r.TopicsFor("polygon"); len(got) != 0 {
		t.Fatalf("expected no topics for polygon, got %v", got)
	}
	if s := r.Stats(); s != (Stats{}) {
		t.Fatalf("expected empty stats, got %+v", s)
	}
}

func TestRegistryRemoveConnection(t *testing.T) {
	r := NewRegistry()
	a := domain.Topic{Network: "ethereum"}
	b := domain.Topic{Network: "ethereum", SubjectID: "pet-7"}
	c := domain.Topic{Network: "bsc"}

	r.Subscribe("c1", a)
	r.Subscribe("c1", b)
	r.Subscribe("c1", c)
	r.Subscribe("c2", a)

	left := r.RemoveConnection("c1")
	if len(left) != 3 {
		t.Fatalf("expected 3 topics left, got %v", left)
	}
	if got := r.TopicsOf("c1"); len(got) != 0 {
		t.Fatalf("c1 should have no topics, got %v", got)
	}
	if got := r.MembersOf(a); len(got) != 1 || got[0] != "c2" {
		t.Fatalf("unexpected members of %s: %v", a, got)
	}
	if got := r.TopicsFor("bsc"); len(got) != 0 {
		t.Fatalf("bsc should be empty, got %v", got)
	}
	if got := r.RemoveConnection("c1"); len(got) != 0 {
		t.Fatalf("second removal should be empty, got %v", got)
	}
	if err := r.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestRegistryTopicsForGroupsByNetwork(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("c1", domain.Topic{Network: "ethereum"})
	r.Subscribe("c2", domain.Topic{Network: "ethereum", SubjectID: "pet-2"})
	r.Subscribe("c3", domain.Topic{Network: "polygon"})

	got := r.TopicsFor("ethereum")
	want := []domain.Topic{{Network: "ethereum"}, {Network: "ethereum", SubjectID: "pet-2"}}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestRegistryVerifyDetectsCorruption(t *testing.T) {
	r := NewRegistry()
	topic := domain.Topic{Network: "ethereum"}
	r.Subscribe("c1", topic)

	delete(r.topics, "c1")
	if err := r.Verify(); !errors.Is(err, domain.ErrRegistryInconsistency) {
		t.Fatalf("expected inconsistency, got %v", err)
	}
}

func TestRegistryConcurrentChurnStaysConsistent(t *testing.T) {
	r := NewRegistry()
	networks := []string{"ethereum", "polygon", "bsc"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			for j := 0; j < 200; j++ {
				topic := domain.Topic{Network: networks[j%len(networks)], SubjectID: fmt.Sprintf("s%d", j%4)}
				r.Subscribe(id, topic)
				if j%3 == 0 {
					r.Unsubscribe(id, topic)
				}
			}
			if i%2 == 0 {
				r.RemoveConnection(id)
			}
		}(i)
	}
	wg.Wait()

	if err := r.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if s := r.Stats(); s.Connections != 8 {
		t.Fatalf("expected 8 connections left, got %+v", s)
	}
}
