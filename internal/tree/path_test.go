package tree

import (
	"testing"
)

func TestPathToChainRoundTrip(t *testing.T) {
	s := NewStore()
	ids := []string{s.CreateSystemMessage("sys")}
	cur := ids[0]
	for i := 0; i < 4; i++ {
		u := s.CreateUserAfter(&cur, Text("u"))
		a, err := s.CreateAssistantAfter(u)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, u, a)
		cur = a
	}

	path := s.PathTo(cur)
	if len(path) != len(ids) {
		t.Fatalf("expected %d turns, got %d", len(ids), len(path))
	}
	for i, turn := range path {
		if turn.ID != ids[i] {
			t.Errorf("turn %d: expected id %s, got %s", i, ids[i], turn.ID)
		}
	}
}

func TestPathToUnknownID(t *testing.T) {
	s := NewStore()
	s.CreateSystemMessage("sys")
	if path := s.PathTo("no-such-id"); len(path) != 0 {
		t.Errorf("expected empty path, got %d turns", len(path))
	}
}

func TestActivePath(t *testing.T) {
	t.Run("explicit pointer wins", func(t *testing.T) {
		s := NewStore()
		root := s.CreateSystemMessage("sys")
		old := s.CreateUserAfter(&root, Text("old branch"))
		s.CreateUserAfter(&root, Text("new branch"))

		path := s.ActivePath(&old)
		if len(path) != 2 || path[1].ID != old {
			t.Errorf("expected path to explicit target, got %+v", path)
		}
	})

	t.Run("invalid pointer falls back to newest leaf", func(t *testing.T) {
		s := NewStore()
		root := s.CreateSystemMessage("sys")
		s.CreateUserAfter(&root, Text("old"))
		newest := s.CreateUserAfter(&root, Text("new"))

		ghost := "deleted-id"
		path := s.ActivePath(&ghost)
		if len(path) != 2 || path[1].ID != newest {
			t.Errorf("expected fallback to newest leaf %s, got %+v", newest, path)
		}
	})

	t.Run("nil pointer falls back to newest leaf", func(t *testing.T) {
		s := NewStore()
		root := s.CreateSystemMessage("sys")
		s.CreateUserAfter(&root, Text("a"))
		b := s.CreateUserAfter(&root, Text("b"))

		path := s.ActivePath(nil)
		if len(path) != 2 || path[1].ID != b {
			t.Errorf("expected path to newest leaf %s, got %+v", b, path)
		}
	})

	t.Run("empty store yields empty path", func(t *testing.T) {
		s := NewStore()
		if path := s.ActivePath(nil); len(path) != 0 {
			t.Errorf("expected empty path, got %d turns", len(path))
		}
	})
}

func TestNewestLeafTieBreak(t *testing.T) {
	// Restored nodes can share a timestamp; the tie must break
	// deterministically by id.
	s := Restore(map[string]Node{
		"aaa": {ID: "aaa", Role: RoleUser, Content: Text("a"), CreatedAt: 100},
		"zzz": {ID: "zzz", Role: RoleUser, Content: Text("z"), CreatedAt: 100},
	})
	leaf, ok := s.NewestLeaf()
	if !ok {
		t.Fatal("expected a leaf")
	}
	if leaf != "zzz" {
		t.Errorf("expected tie-break to pick zzz, got %s", leaf)
	}
}

func TestPathCarriesReasoningAndStatus(t *testing.T) {
	s := NewStore()
	sys := s.CreateSystemMessage("sys")
	a, err := s.CreateAssistantAfter(sys)
	if err != nil {
		t.Fatal(err)
	}
	s.AppendToNode(a, AppendDelta{Content: "answer", Reasoning: "trace"})
	s.SetNodeStatus(a, StatusFinal)

	path := s.PathTo(a)
	last := path[len(path)-1]
	if last.Reasoning != "trace" {
		t.Errorf("expected reasoning on turn, got %q", last.Reasoning)
	}
	if last.Status != StatusFinal {
		t.Errorf("expected final status on turn, got %q", last.Status)
	}
}
