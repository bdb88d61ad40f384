package tree

import (
	"errors"
	"reflect"
	"testing"

	"arbor/internal/domain"
)

func TestStreamingScenario(t *testing.T) {
	s := NewStore()

	sysID := s.CreateSystemMessage("sys")
	userID := s.CreateUserAfter(&sysID, Text("hi"))
	asstID, err := s.CreateAssistantAfter(userID)
	if err != nil {
		t.Fatalf("CreateAssistantAfter failed: %v", err)
	}

	if n, _ := s.Get(asstID); n.Status != StatusDraft {
		t.Errorf("expected draft status, got %q", n.Status)
	}

	s.AppendToNode(asstID, AppendDelta{Content: "Hel"})
	s.AppendToNode(asstID, AppendDelta{Content: "lo"})
	s.SetNodeStatus(asstID, StatusFinal)

	path := s.PathTo(asstID)
	if len(path) != 3 {
		t.Fatalf("expected path of 3 turns, got %d", len(path))
	}

	expected := []struct {
		role    Role
		content string
		status  Status
	}{
		{RoleSystem, "sys", ""},
		{RoleUser, "hi", ""},
		{RoleAssistant, "Hello", StatusFinal},
	}
	for i, want := range expected {
		got := path[i]
		if got.Role != want.role {
			t.Errorf("turn %d: expected role %q, got %q", i, want.role, got.Role)
		}
		if PlainText(got.Content) != want.content {
			t.Errorf("turn %d: expected content %q, got %q", i, want.content, PlainText(got.Content))
		}
		if got.Status != want.status {
			t.Errorf("turn %d: expected status %q, got %q", i, want.status, got.Status)
		}
	}
}

func TestCreateUserAfter(t *testing.T) {
	t.Run("missing parent becomes root", func(t *testing.T) {
		s := NewStore()
		ghost := "no-such-id"
		id := s.CreateUserAfter(&ghost, Text("hi"))
		n, ok := s.Get(id)
		if !ok {
			t.Fatal("node not created")
		}
		if n.ParentID != nil {
			t.Errorf("expected nil parent, got %v", *n.ParentID)
		}
		if got := s.Roots(); len(got) != 1 || got[0] != id {
			t.Errorf("expected roots [%s], got %v", id, got)
		}
	})

	t.Run("nil parent becomes root", func(t *testing.T) {
		s := NewStore()
		id := s.CreateUserAfter(nil, Text("hi"))
		if n, _ := s.Get(id); n.ParentID != nil {
			t.Errorf("expected nil parent, got %v", *n.ParentID)
		}
	})
}

func TestCreateAssistantAfterMissingParent(t *testing.T) {
	s := NewStore()
	_, err := s.CreateAssistantAfter("no-such-id")
	if err == nil {
		t.Fatal("expected error for missing parent")
	}
	var pnf *ParentNotFoundError
	if !errors.As(err, &pnf) {
		t.Fatalf("expected ParentNotFoundError, got %T", err)
	}
	if pnf.ParentID != "no-such-id" {
		t.Errorf("expected parent id in error, got %q", pnf.ParentID)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Error("expected error to match domain.ErrNotFound")
	}
}

func TestUnknownIDSafety(t *testing.T) {
	s := NewStore()
	sysID := s.CreateSystemMessage("sys")
	s.CreateUserAfter(&sysID, Text("hi"))

	before := s.Nodes()

	s.RemoveNode("does-not-exist")
	s.AppendToNode("does-not-exist", AppendDelta{Content: "x", Reasoning: "y"})
	s.SetNodeStatus("does-not-exist", StatusFinal)
	s.SetNodeContent("does-not-exist", Text("z"), nil)
	s.SplitBranch("does-not-exist")
	s.ReparentNode("does-not-exist", sysID)
	if _, ok := s.CloneNode("does-not-exist"); ok {
		t.Error("CloneNode on unknown id reported success")
	}
	if _, ok := s.ReplaceNodeWithEditedClone("does-not-exist", EditPatch{Content: Text("z")}); ok {
		t.Error("ReplaceNodeWithEditedClone on unknown id reported success")
	}
	if got := s.PathTo("does-not-exist"); len(got) != 0 {
		t.Errorf("expected empty path, got %d turns", len(got))
	}

	if after := s.Nodes(); !reflect.DeepEqual(before, after) {
		t.Errorf("unknown-id operations mutated the tree:\nbefore=%+v\nafter=%+v", before, after)
	}
}

func TestRemoveNodeSplices(t *testing.T) {
	t.Run("middle of chain", func(t *testing.T) {
		s := NewStore()
		root := s.CreateSystemMessage("root")
		a := s.CreateUserAfter(&root, Text("a"))
		b := s.CreateUserAfter(&a, Text("b"))
		c := s.CreateUserAfter(&b, Text("c"))

		s.RemoveNode(b)

		if _, ok := s.Get(b); ok {
			t.Error("removed node still present")
		}
		n, _ := s.Get(c)
		if n.ParentID == nil || *n.ParentID != a {
			t.Errorf("expected c re-parented to a, got %v", n.ParentID)
		}
		path := s.PathTo(c)
		if len(path) != 3 {
			t.Fatalf("expected root->a->c, got %d turns", len(path))
		}
	})

	t.Run("root with children promotes them", func(t *testing.T) {
		s := NewStore()
		root := s.CreateSystemMessage("root")
		a := s.CreateUserAfter(&root, Text("a"))
		b := s.CreateUserAfter(&root, Text("b"))

		s.RemoveNode(root)

		roots := s.Roots()
		if len(roots) != 2 {
			t.Fatalf("expected 2 roots, got %v", roots)
		}
		for _, id := range []string{a, b} {
			if n, _ := s.Get(id); n.ParentID != nil {
				t.Errorf("node %s should be a root, has parent %v", id, *n.ParentID)
			}
		}
	})
}

func TestEditProducesSiblingBranch(t *testing.T) {
	s := NewStore()
	p := s.CreateSystemMessage("p")
	x := s.CreateUserAfter(&p, Text("original"))
	y := s.CreateUserAfter(&x, Text("reply"))

	xPrime, ok := s.ReplaceNodeWithEditedClone(x, EditPatch{Content: Text("edited")})
	if !ok {
		t.Fatal("edit reported failure")
	}

	clone, _ := s.Get(xPrime)
	if clone.ParentID == nil || *clone.ParentID != p {
		t.Errorf("expected clone under p, got %v", clone.ParentID)
	}
	if PlainText(clone.Content) != "edited" {
		t.Errorf("expected edited content, got %q", PlainText(clone.Content))
	}
	if clone.Status != StatusFinal {
		t.Errorf("expected clone marked final, got %q", clone.Status)
	}

	// Y is re-parented onto the clone
	child, _ := s.Get(y)
	if child.ParentID == nil || *child.ParentID != xPrime {
		t.Errorf("expected y under clone, got %v", child.ParentID)
	}

	// The original survives unchanged and childless
	orig, ok := s.Get(x)
	if !ok {
		t.Fatal("original node disappeared")
	}
	if PlainText(orig.Content) != "original" {
		t.Errorf("original content mutated: %q", PlainText(orig.Content))
	}
	for _, e := range s.Edges() {
		if e.FromID == x {
			t.Errorf("original still has child %s", e.ToID)
		}
	}
}

func TestEditFallsBackToOriginalFields(t *testing.T) {
	s := NewStore()
	p := s.CreateSystemMessage("p")
	x := s.CreateUserAfter(&p, Text("keep me"))
	s.AppendToNode(x, AppendDelta{Reasoning: "original reasoning"})

	reasoning := "new reasoning"
	id, ok := s.ReplaceNodeWithEditedClone(x, EditPatch{ReasoningContent: &reasoning})
	if !ok {
		t.Fatal("edit reported failure")
	}
	clone, _ := s.Get(id)
	if PlainText(clone.Content) != "keep me" {
		t.Errorf("content should fall back to original, got %q", PlainText(clone.Content))
	}
	if clone.ReasoningContent != "new reasoning" {
		t.Errorf("reasoning should be overridden, got %q", clone.ReasoningContent)
	}
}

func TestCloneNodeIsSibling(t *testing.T) {
	s := NewStore()
	p := s.CreateSystemMessage("p")
	x := s.CreateUserAfter(&p, Text("x"))
	s.AppendToNode(x, AppendDelta{Reasoning: "trace", TokenLogprobs: []TokenLogprob{{Token: "x", Logprob: -0.5}}})

	dup, ok := s.CloneNode(x)
	if !ok {
		t.Fatal("clone reported failure")
	}
	if dup == x {
		t.Fatal("clone must get a fresh id")
	}
	src, _ := s.Get(x)
	got, _ := s.Get(dup)
	if got.ParentID == nil || *got.ParentID != p {
		t.Errorf("expected clone under same parent, got %v", got.ParentID)
	}
	if PlainText(got.Content) != PlainText(src.Content) || got.ReasoningContent != src.ReasoningContent {
		t.Error("clone did not copy content fields")
	}
	if len(got.TokenLogprobs) != 1 || got.TokenLogprobs[0].Token != "x" {
		t.Errorf("clone did not copy logprobs: %+v", got.TokenLogprobs)
	}
	if got.CreatedAt <= src.CreatedAt {
		t.Error("clone must get a fresh timestamp")
	}
}

func TestReparentCycleGuard(t *testing.T) {
	s := NewStore()
	a := s.CreateSystemMessage("a")
	b := s.CreateUserAfter(&a, Text("b"))
	c := s.CreateUserAfter(&b, Text("c"))

	tests := []struct {
		name     string
		parent   string
		child    string
		expected bool
	}{
		{"to descendant is a cycle", c, a, false},
		{"to self is a cycle", b, b, false},
		{"to own child is a cycle", b, a, false},
		{"unknown parent", "ghost", c, false},
		{"unknown child", a, "ghost", false},
		{"legal sideways move", a, c, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.CanReparent(tt.parent, tt.child); got != tt.expected {
				t.Errorf("CanReparent(%s, %s) = %v, expected %v", tt.parent, tt.child, got, tt.expected)
			}
		})
	}

	// Illegal reparent is a silent no-op
	s.ReparentNode(a, c)
	if n, _ := s.Get(a); n.ParentID != nil {
		t.Errorf("cycle-creating reparent was applied: parent=%v", *n.ParentID)
	}

	// Legal reparent applies
	s.ReparentNode(c, a)
	if n, _ := s.Get(c); n.ParentID == nil || *n.ParentID != a {
		t.Errorf("legal reparent not applied: parent=%v", n.ParentID)
	}
}

func TestSplitBranch(t *testing.T) {
	s := NewStore()
	a := s.CreateSystemMessage("a")
	b := s.CreateUserAfter(&a, Text("b"))

	s.SplitBranch(b)

	if n, _ := s.Get(b); n.ParentID != nil {
		t.Errorf("expected detached root, got parent %v", *n.ParentID)
	}
	roots := s.Roots()
	if len(roots) != 2 {
		t.Errorf("expected 2 roots after detach, got %v", roots)
	}
	if len(s.Edges()) != 0 {
		t.Errorf("expected no edges after detach, got %v", s.Edges())
	}
}

func TestAppendMergesTrailingTextRun(t *testing.T) {
	s := NewStore()
	id := s.CreateUserAfter(nil, Parts{
		ImagePart("data:image/png;base64,AAAA", "image/png"),
		TextPart("Hel"),
	})

	s.AppendToNode(id, AppendDelta{Content: "lo"})

	n, _ := s.Get(id)
	parts, ok := n.Content.(Parts)
	if !ok {
		t.Fatalf("expected structured content, got %T", n.Content)
	}
	if len(parts) != 2 {
		t.Fatalf("append fragmented content into %d parts", len(parts))
	}
	if parts[1].Text != "Hello" {
		t.Errorf("expected trailing run %q, got %q", "Hello", parts[1].Text)
	}
}

func TestAppendAfterImageStartsNewRun(t *testing.T) {
	s := NewStore()
	id := s.CreateUserAfter(nil, Parts{ImagePart("data:image/png;base64,AAAA", "image/png")})

	s.AppendToNode(id, AppendDelta{Content: "caption"})

	n, _ := s.Get(id)
	parts := n.Content.(Parts)
	if len(parts) != 2 || parts[1].Type != PartTypeText || parts[1].Text != "caption" {
		t.Errorf("expected fresh text run after image, got %+v", parts)
	}
}

func TestAppendAccumulatesReasoningAndLogprobs(t *testing.T) {
	s := NewStore()
	sys := s.CreateSystemMessage("sys")
	id, err := s.CreateAssistantAfter(sys)
	if err != nil {
		t.Fatal(err)
	}

	s.AppendToNode(id, AppendDelta{Reasoning: "think", TokenLogprobs: []TokenLogprob{{Token: "a", Logprob: -1}}})
	s.AppendToNode(id, AppendDelta{Reasoning: "ing", TokenLogprobs: []TokenLogprob{{Token: "b", Logprob: -2}}})

	n, _ := s.Get(id)
	if n.ReasoningContent != "thinking" {
		t.Errorf("expected concatenated reasoning, got %q", n.ReasoningContent)
	}
	if len(n.TokenLogprobs) != 2 {
		t.Errorf("expected 2 logprob entries, got %d", len(n.TokenLogprobs))
	}
}

func TestDerivedStateConsistency(t *testing.T) {
	s := NewStore()
	root := s.CreateSystemMessage("root")
	a := s.CreateUserAfter(&root, Text("a"))
	b := s.CreateUserAfter(&root, Text("b"))

	edges := s.Edges()
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %v", edges)
	}
	for _, e := range edges {
		if e.FromID != root {
			t.Errorf("unexpected edge source %s", e.FromID)
		}
	}
	if roots := s.Roots(); len(roots) != 1 || roots[0] != root {
		t.Errorf("expected single root %s, got %v", root, roots)
	}

	// Edges are ordered by child creation time
	if edges[0].ToID != a || edges[1].ToID != b {
		t.Errorf("expected deterministic edge order [%s %s], got %v", a, b, edges)
	}
}

func TestTimestampsAreMonotonic(t *testing.T) {
	s := NewStore()
	prev := int64(0)
	var parent *string
	for i := 0; i < 50; i++ {
		id := s.CreateUserAfter(parent, Text("m"))
		n, _ := s.Get(id)
		if n.CreatedAt <= prev {
			t.Fatalf("timestamp %d not strictly greater than %d", n.CreatedAt, prev)
		}
		prev = n.CreatedAt
		parent = &id
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	id := s.CreateUserAfter(nil, Parts{TextPart("hi")})

	n, _ := s.Get(id)
	n.Content.(Parts)[0].Text = "mutated"

	fresh, _ := s.Get(id)
	if PlainText(fresh.Content) != "hi" {
		t.Error("Get leaked internal state to the caller")
	}
}

func TestRestoreNullsDanglingParents(t *testing.T) {
	ghost := "ghost"
	s := Restore(map[string]Node{
		"z": {ID: "z", Role: RoleUser, Content: Text("z"), CreatedAt: 10, ParentID: &ghost},
	})
	n, ok := s.Get("z")
	if !ok {
		t.Fatal("node missing after restore")
	}
	if n.ParentID != nil {
		t.Errorf("dangling parent should be nulled, got %v", *n.ParentID)
	}
	if roots := s.Roots(); len(roots) != 1 || roots[0] != "z" {
		t.Errorf("expected z as root, got %v", roots)
	}
}
