// Package segment turns a hierarchical section tree into an ordered
// sequence of bounded text chunks ready for synthesis fan-out.
package segment

import (
	"fmt"
	"strings"
)

// maxDepth caps the section hierarchy. Nodes nested deeper are skipped
// during flattening rather than reported as an error.
const maxDepth = 5

// FlatSection is one visited node with its positional index.
type FlatSection struct {
	Index   string
	Heading string
	Content string
}

// Combined returns the heading and content as a single speakable text.
func (f FlatSection) Combined() string {
	if f.Content == "" {
		return f.Heading
	}
	return f.Heading + "\n\n" + f.Content
}

// Flatten walks the tree depth-first and assigns each node a dotted
// five-component index, zero-padded past the node's actual depth.
// The walk is deterministic: identical input trees produce identical
// index sequences.
func Flatten(tree []Section) []FlatSection {
	var out []FlatSection
	walk(tree, nil, &out)
	return out
}

func walk(sections []Section, path []int, out *[]FlatSection) {
	if len(path) >= maxDepth {
		return
	}
	for i, sec := range sections {
		nodePath := append(append([]int(nil), path...), i+1)
		*out = append(*out, FlatSection{
			Index:   formatIndex(nodePath),
			Heading: sec.Heading,
			Content: sec.ContentText(),
		})
		walk(sec.Subsections, nodePath, out)
	}
}

func formatIndex(path []int) string {
	parts := make([]string, maxDepth)
	for i := 0; i < maxDepth; i++ {
		if i < len(path) {
			parts[i] = fmt.Sprintf("%d", path[i])
		} else {
			parts[i] = "0"
		}
	}
	return strings.Join(parts, ".")
}

// SelectByTitle narrows a flattened sequence to sections whose heading
// matches title (case-insensitive). An empty result is a valid
// "nothing to do" outcome, not an error.
func SelectByTitle(flat []FlatSection, title string) []FlatSection {
	if strings.TrimSpace(title) == "" {
		return flat
	}
	var out []FlatSection
	for _, fs := range flat {
		if strings.EqualFold(strings.TrimSpace(fs.Heading), strings.TrimSpace(title)) {
			out = append(out, fs)
		}
	}
	return out
}
