package kdbx

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kdbxwalk/kdbxwalk/pkg/utils"
	"github.com/samber/lo"
	"golang.org/x/text/cases"
)

var foldCase = cases.Fold()

// Entry is a single credential record, per spec.md §3's Entry type.
type Entry struct {
	UUID     uuid.UUID
	Title    string
	Username string
	Password string
	URL      string
	Notes    string
	IconID   int64
	Tags     []string

	group *Group
}

// setWellKnown assigns the four standard KeePass string fields (Title,
// UserName, Password, URL) by Key, and folds anything else into Notes only
// when Key is literally "Notes" — other custom string fields are dropped,
// per spec.md §3's Non-goals around custom/attachment fields.
func (e *Entry) setWellKnown(key, value string) {
	switch key {
	case "Title":
		e.Title = value
	case "UserName":
		e.Username = value
	case "Password":
		e.Password = value
	case "URL":
		e.URL = value
	case "Notes":
		e.Notes = value
	}
}

// Group returns the entry's parent group, or nil if the entry has not been
// attached to a tree.
func (e *Entry) Group() *Group { return e.group }

// Group is a node in the database tree, per spec.md §3's Group type. The
// database root is itself a Group named "/" with a nil parent.
type Group struct {
	UUID    uuid.UUID
	Name    string
	Notes   string
	Groups  []*Group
	Entries []*Entry

	parent *Group
}

// Parent returns g's parent, or nil if g is the root.
func (g *Group) Parent() *Group { return g.parent }

// IsRoot reports whether g is the database root.
func (g *Group) IsRoot() bool { return g.parent == nil }

// AbsolutePath renders g's location as a "/"-separated path from the root.
// The root's own path is "/". Joining and normalizing a user-supplied path
// is done by NormalizePath.
func (g *Group) AbsolutePath() string {
	if g.IsRoot() {
		return "/"
	}
	var segments []string
	for cur := g; !cur.IsRoot(); cur = cur.parent {
		segments = append([]string{cur.Name}, segments...)
	}
	return "/" + strings.Join(segments, "/")
}

// GroupNames returns the immediate child group names, sorted case-insensitively,
// per spec.md 4.G's group_names operation.
func (g *Group) GroupNames() []string {
	names := lo.Map(g.Groups, func(child *Group, _ int) string { return child.Name })
	sortFolded(names)
	return names
}

// EntryTitles returns the immediate child entry titles, sorted
// case-insensitively, per spec.md 4.G's entry_titles operation.
func (g *Group) EntryTitles() []string {
	titles := lo.Map(g.Entries, func(e *Entry, _ int) string { return e.Title })
	sortFolded(titles)
	return titles
}

func sortFolded(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && foldCase.String(s[j-1]) > foldCase.String(s[j]); j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// HasGroup reports whether g has an immediate child group with the given
// name, matched case-insensitively.
func (g *Group) HasGroup(name string) bool {
	_, ok := lo.Find(g.Groups, func(child *Group) bool { return foldCase.String(child.Name) == foldCase.String(name) })
	return ok
}

// HasEntry reports whether g has an immediate child entry with the given
// title, matched case-insensitively.
func (g *Group) HasEntry(title string) bool {
	_, ok := lo.Find(g.Entries, func(e *Entry) bool { return foldCase.String(e.Title) == foldCase.String(title) })
	return ok
}

// childGroup returns the immediate child group matching name case-insensitively,
// or nil.
func (g *Group) childGroup(name string) *Group {
	child, ok := lo.Find(g.Groups, func(c *Group) bool { return foldCase.String(c.Name) == foldCase.String(name) })
	if !ok {
		return nil
	}
	return child
}

// FindGroup resolves a "/"-separated path (relative to g, or absolute if it
// starts with "/") to a Group, per spec.md 4.G's find_group operation.
// "." and ".." navigate in place and to the parent respectively; an empty
// segment (consecutive slashes) is ignored; navigating ".." past the root
// clamps at the root.
func (g *Group) FindGroup(path string) (*Group, error) {
	cur := g
	if strings.HasPrefix(path, "/") {
		cur = g.rootOf()
	}
	for _, seg := range utils.PathSegments(path) {
		switch seg {
		case "..":
			if cur.parent != nil {
				cur = cur.parent
			}
		default:
			next := cur.childGroup(seg)
			if next == nil {
				return nil, fmt.Errorf("%w: group %q under %q", ErrNotFound, seg, cur.AbsolutePath())
			}
			cur = next
		}
	}
	return cur, nil
}

// FindEntry resolves path as a group path via FindGroup, then looks up title
// as an immediate child entry of the resolved group, case-insensitively.
func (g *Group) FindEntry(path, title string) (*Entry, error) {
	target, err := g.FindGroup(path)
	if err != nil {
		return nil, err
	}
	entry, ok := lo.Find(target.Entries, func(e *Entry) bool {
		return foldCase.String(e.Title) == foldCase.String(title)
	})
	if !ok {
		return nil, fmt.Errorf("%w: entry %q in %q", ErrNotFound, title, target.AbsolutePath())
	}
	return entry, nil
}

func (g *Group) rootOf() *Group {
	cur := g
	for !cur.IsRoot() {
		cur = cur.parent
	}
	return cur
}

// FuzzyFind implements spec.md 4.G's fuzzy_find: split input into (dir,
// last) on the final "/"; resolve dir from g. If last is itself an exact
// child group name of the resolved directory, re-root into it and return
// all of its children. Otherwise return the directory's children whose
// name/title case-insensitively starts with last. If dir does not resolve,
// returns (input, nil, nil).
func (g *Group) FuzzyFind(input string) (canonical string, groups []string, entries []string) {
	dir, last := splitDirLast(input)

	dirGroup := g
	if dir != "" {
		resolved, err := g.FindGroup(dir)
		if err != nil {
			return input, nil, nil
		}
		dirGroup = resolved
	}

	if last == "" {
		return dirGroup.AbsolutePath(), dirGroup.GroupNames(), dirGroup.EntryTitles()
	}
	if child := dirGroup.childGroup(last); child != nil {
		return child.AbsolutePath(), child.GroupNames(), child.EntryTitles()
	}

	needle := foldCase.String(last)
	for _, name := range dirGroup.GroupNames() {
		if strings.HasPrefix(foldCase.String(name), needle) {
			groups = append(groups, name)
		}
	}
	for _, title := range dirGroup.EntryTitles() {
		if strings.HasPrefix(foldCase.String(title), needle) {
			entries = append(entries, title)
		}
	}
	return dirGroup.AbsolutePath(), groups, entries
}

// splitDirLast splits input into its directory prefix and final path
// segment, on the last "/". A input with no "/" has an empty dir.
func splitDirLast(input string) (dir, last string) {
	last = utils.LastSegment(input)
	idx := strings.LastIndex(input, "/")
	if idx < 0 {
		return "", last
	}
	return input[:idx], last
}

// NormalizePath implements spec.md 4.G's absolute_path: join input against
// cwdPath (unless input is already absolute), then collapse repeated
// slashes, resolve "." and ".." (clamped at root), and drop any trailing
// slash except for the root itself.
func NormalizePath(input, cwdPath string) string {
	joined := input
	if !strings.HasPrefix(input, "/") {
		joined = strings.TrimSuffix(cwdPath, "/") + "/" + input
	}

	var stack []string
	for _, seg := range utils.PathSegments(joined) {
		if seg == ".." {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		stack = append(stack, seg)
	}
	return utils.JoinSegments(stack)
}
