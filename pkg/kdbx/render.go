package kdbx

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/jftuga/ellipsis"
)

const notesEllipsisLimit = 80

var (
	labelColor = color.New(color.FgCyan)
	nameColor  = color.New(color.FgGreen, color.Bold)
)

// Details renders the subtree rooted at g as an indented text block, per
// spec.md 4.G's details(level, show_password) operation: each level adds
// two spaces of indentation; at level 0 the root's own label is its full
// path, otherwise its name; entry fields are printed one per line with the
// password masked unless showPassword is set.
func (g *Group) Details(level int, showPassword bool) string {
	var sb strings.Builder
	g.render(&sb, level, showPassword)
	return sb.String()
}

func (g *Group) render(sb *strings.Builder, level int, showPassword bool) {
	indent := strings.Repeat("  ", level)
	label := g.Name
	if level == 0 {
		label = g.AbsolutePath()
	}
	fmt.Fprintf(sb, "%s%s\n", indent, nameColor.Sprint(label))

	entryIndent := indent + "  "
	for _, e := range g.sortedEntries() {
		fmt.Fprintf(sb, "%s%s\n", entryIndent, nameColor.Sprint(e.Title))
		e.renderFields(sb, entryIndent+"  ", showPassword)
	}
	for _, child := range g.sortedGroups() {
		child.render(sb, level+1, showPassword)
	}
}

func (e *Entry) renderFields(sb *strings.Builder, indent string, showPassword bool) {
	password := maskedPassword
	if showPassword {
		password = e.Password
	}
	fmt.Fprintf(sb, "%s%s %s\n", indent, labelColor.Sprint("username:"), e.Username)
	fmt.Fprintf(sb, "%s%s %s\n", indent, labelColor.Sprint("password:"), password)
	if e.URL != "" {
		fmt.Fprintf(sb, "%s%s %s\n", indent, labelColor.Sprint("url:"), e.URL)
	}
	if e.Notes != "" {
		fmt.Fprintf(sb, "%s%s %s\n", indent, labelColor.Sprint("notes:"), ellipsis.Shorten(e.Notes, notesEllipsisLimit))
	}
}

const maskedPassword = "********"

func (g *Group) sortedEntries() []*Entry {
	entries := append([]*Entry(nil), g.Entries...)
	sortEntries(entries)
	return entries
}

func (g *Group) sortedGroups() []*Group {
	groups := append([]*Group(nil), g.Groups...)
	sortGroups(groups)
	return groups
}

func sortEntries(entries []*Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && foldCase.String(entries[j-1].Title) > foldCase.String(entries[j].Title); j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

func sortGroups(groups []*Group) {
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && foldCase.String(groups[j-1].Name) > foldCase.String(groups[j].Name); j-- {
			groups[j-1], groups[j] = groups[j], groups[j-1]
		}
	}
}
