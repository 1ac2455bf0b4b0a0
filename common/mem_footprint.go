package common

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"slices"
)

// MemoryFootprint describes the memory consumption of a database structure.
// Footprints form a tree mirroring the component structure; a footprint may
// be shared by several parents, in which case it is counted only once.
type MemoryFootprint struct {
	value    uintptr
	children map[string]*MemoryFootprint
	note     string
}

// NewMemoryFootprint creates a footprint reporting the given number of bytes,
// not counting any subcomponents.
func NewMemoryFootprint(value uintptr) *MemoryFootprint {
	return &MemoryFootprint{value: value}
}

// AddChild attaches the footprint of a subcomponent under the given name.
func (mf *MemoryFootprint) AddChild(name string, child *MemoryFootprint) {
	if mf.children == nil {
		mf.children = make(map[string]*MemoryFootprint)
	}
	mf.children[name] = child
}

// SetNote attaches a free-form annotation shown next to this footprint.
func (mf *MemoryFootprint) SetNote(note string) {
	mf.note = note
}

// Value provides the number of bytes consumed by the structure itself,
// excluding its subcomponents.
func (mf *MemoryFootprint) Value() uintptr {
	return mf.value
}

// Total provides the number of bytes consumed by the structure including all
// its subcomponents. Shared and cyclic references are counted once.
func (mf *MemoryFootprint) Total() uintptr {
	visited := make(map[*MemoryFootprint]struct{})
	return mf.total(visited)
}

func (mf *MemoryFootprint) total(visited map[*MemoryFootprint]struct{}) uintptr {
	if mf == nil {
		return 0
	}
	if _, seen := visited[mf]; seen {
		return 0
	}
	visited[mf] = struct{}{}
	sum := mf.value
	for _, child := range mf.children {
		sum += child.total(visited)
	}
	return sum
}

// String renders the footprint tree with one line per component, children
// before their parent, sizes right-aligned.
func (mf *MemoryFootprint) String() string {
	var sb strings.Builder
	visited := make(map[*MemoryFootprint]struct{})
	mf.printTo(&sb, ".", visited)
	return sb.String()
}

func (mf *MemoryFootprint) printTo(sb *strings.Builder, path string, visited map[*MemoryFootprint]struct{}) {
	if mf == nil {
		return
	}
	if _, seen := visited[mf]; seen {
		return
	}
	visited[mf] = struct{}{}

	names := maps.Keys(mf.children)
	slices.Sort(names)
	for _, name := range names {
		mf.children[name].printTo(sb, path+"/"+name, visited)
	}

	sb.WriteString(memoryAmountToString(mf.Total()))
	sb.WriteRune(' ')
	sb.WriteString(path)
	if mf.note != "" {
		sb.WriteString(" (")
		sb.WriteString(mf.note)
		sb.WriteRune(')')
	}
	sb.WriteRune('\n')
}

func memoryAmountToString(bytes uintptr) string {
	const unit = 1024
	const prefixes = " KMGTPE"
	div, exp := uintptr(1), 0
	for n := bytes; n >= unit && exp+1 < len(prefixes); n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%6.1f %cB", float64(bytes)/float64(div), prefixes[exp])
}
