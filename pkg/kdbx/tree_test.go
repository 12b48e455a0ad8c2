package kdbx

import "testing"

func buildTestTree() *Group {
	root := &Group{Name: "/"}

	alpha := &Group{Name: "Alpha", parent: root}
	alfred := &Group{Name: "Alfred", parent: root}
	beta := &Group{Name: "Beta", parent: root}
	root.Groups = []*Group{alpha, alfred, beta}

	sample := &Entry{Title: "Sample", Username: "user", Password: "pw", group: alpha}
	alpha.Entries = []*Entry{sample}

	nested := &Group{Name: "Nested", parent: alpha}
	alpha.Groups = []*Group{nested}

	return root
}

func TestFindGroup_CaseInsensitivePath(t *testing.T) {
	root := buildTestTree()

	g1, err := root.FindGroup("/Alpha/Nested")
	if err != nil {
		t.Fatalf("FindGroup: %v", err)
	}
	g2, err := root.FindGroup("/alpha/nested")
	if err != nil {
		t.Fatalf("FindGroup: %v", err)
	}
	if g1 != g2 {
		t.Fatalf("case-insensitive lookups should resolve to the same group")
	}
}

func TestFindGroup_DotDotClampsAtRoot(t *testing.T) {
	root := buildTestTree()
	g, err := root.FindGroup("/../../..")
	if err != nil {
		t.Fatalf("FindGroup: %v", err)
	}
	if g != root {
		t.Fatalf("expected clamp at root")
	}
}

func TestFindGroup_CollapsesRepeatedSlashes(t *testing.T) {
	root := buildTestTree()
	g, err := root.FindGroup("//Alpha//Nested//")
	if err != nil {
		t.Fatalf("FindGroup: %v", err)
	}
	if g.Name != "Nested" {
		t.Fatalf("Name = %q, want Nested", g.Name)
	}
}

func TestFindGroup_NotFound(t *testing.T) {
	root := buildTestTree()
	_, err := root.FindGroup("/DoesNotExist")
	if err == nil {
		t.Fatalf("expected an error for an unresolvable path")
	}
}

func TestGroupNames_SortedCaseInsensitive(t *testing.T) {
	root := buildTestTree()
	names := root.GroupNames()
	want := []string{"Alfred", "Alpha", "Beta"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestFuzzyFind_PrefixMatchOnly(t *testing.T) {
	root := buildTestTree()
	_, groups, _ := root.FuzzyFind("Al")
	if len(groups) != 2 || groups[0] != "Alfred" || groups[1] != "Alpha" {
		t.Fatalf("groups = %v, want [Alfred Alpha]", groups)
	}
}

func TestFuzzyFind_ExactGroupRerootsAndListsChildren(t *testing.T) {
	root := buildTestTree()
	canonical, groups, entries := root.FuzzyFind("Alpha")
	if canonical != "/Alpha" {
		t.Fatalf("canonical = %q, want /Alpha", canonical)
	}
	if len(groups) != 1 || groups[0] != "Nested" {
		t.Fatalf("groups = %v, want [Nested]", groups)
	}
	if len(entries) != 1 || entries[0] != "Sample" {
		t.Fatalf("entries = %v, want [Sample]", entries)
	}
}

func TestFuzzyFind_UnresolvableDirReturnsInputUnchanged(t *testing.T) {
	root := buildTestTree()
	canonical, groups, entries := root.FuzzyFind("Missing/Query")
	if canonical != "Missing/Query" {
		t.Fatalf("canonical = %q, want input echoed back", canonical)
	}
	if groups != nil || entries != nil {
		t.Fatalf("groups/entries should be nil for an unresolvable dir")
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct{ input, cwd, want string }{
		{"/Alpha/Nested", "/ignored", "/Alpha/Nested"},
		{"Nested", "/Alpha", "/Alpha/Nested"},
		{"..", "/Alpha/Nested", "/Alpha"},
		{"../../../..", "/Alpha/Nested", "/"},
		{"//Alpha//", "/", "/Alpha"},
		{".", "/Alpha", "/Alpha"},
	}
	for _, c := range cases {
		got := NormalizePath(c.input, c.cwd)
		if got != c.want {
			t.Errorf("NormalizePath(%q, %q) = %q, want %q", c.input, c.cwd, got, c.want)
		}
	}
}

func TestAbsolutePath(t *testing.T) {
	root := buildTestTree()
	alpha := root.Groups[0]
	nested := alpha.Groups[0]
	if got := nested.AbsolutePath(); got != "/Alpha/Nested" {
		t.Fatalf("AbsolutePath = %q, want /Alpha/Nested", got)
	}
	if got := root.AbsolutePath(); got != "/" {
		t.Fatalf("root AbsolutePath = %q, want /", got)
	}
}

func TestDetails_MasksPasswordByDefault(t *testing.T) {
	root := buildTestTree()
	out := root.Details(0, false)
	if containsSubstring(out, "pw") {
		t.Fatalf("password leaked unmasked: %s", out)
	}
	shown := root.Details(0, true)
	if !containsSubstring(shown, "pw") {
		t.Fatalf("password not shown when requested: %s", shown)
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
