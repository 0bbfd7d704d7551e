package segment

import (
	"reflect"
	"strings"
	"testing"
)

func sampleTree() []Section {
	return []Section{
		{
			Heading: "Chapter One",
			Content: "First paragraph. Second paragraph.",
			Subsections: []Section{
				{Heading: "Part A", Content: []any{"line one", "line two"}},
				{Heading: "Part B", Content: "Body of part B."},
			},
		},
		{Heading: "Chapter Two", Content: "Another chapter."},
	}
}

func TestFlattenIndices(t *testing.T) {
	flat := Flatten(sampleTree())
	want := []string{"1.0.0.0.0", "1.1.0.0.0", "1.2.0.0.0", "2.0.0.0.0"}
	if len(flat) != len(want) {
		t.Fatalf("expected %d sections, got %d", len(want), len(flat))
	}
	for i, fs := range flat {
		if fs.Index != want[i] {
			t.Fatalf("section %d: expected index %s, got %s", i, want[i], fs.Index)
		}
	}
}

func TestFlattenDeterministic(t *testing.T) {
	first := Flatten(sampleTree())
	second := Flatten(sampleTree())
	if !reflect.DeepEqual(first, second) {
		t.Fatal("flattening the same tree twice produced different output")
	}
}

func TestFlattenListContentJoined(t *testing.T) {
	flat := Flatten(sampleTree())
	if flat[1].Content != "line one\nline two" {
		t.Fatalf("expected list content joined with newlines, got %q", flat[1].Content)
	}
}

func TestFlattenNonStringContentCollapses(t *testing.T) {
	flat := Flatten([]Section{{Heading: "H", Content: map[string]any{"x": 1}}})
	if flat[0].Content != "" {
		t.Fatalf("expected empty content, got %q", flat[0].Content)
	}
}

func TestFlattenDepthCap(t *testing.T) {
	// Seven levels deep; levels six and seven must be excluded.
	tree := []Section{{Heading: "L1", Subsections: []Section{
		{Heading: "L2", Subsections: []Section{
			{Heading: "L3", Subsections: []Section{
				{Heading: "L4", Subsections: []Section{
					{Heading: "L5", Subsections: []Section{
						{Heading: "L6", Subsections: []Section{
							{Heading: "L7"},
						}},
					}},
				}},
			}},
		}},
	}}}
	flat := Flatten(tree)
	if len(flat) != 5 {
		t.Fatalf("expected 5 sections, got %d", len(flat))
	}
	for _, fs := range flat {
		if strings.Count(fs.Index, ".") != 4 {
			t.Fatalf("index %q is not five components", fs.Index)
		}
		if fs.Heading == "L6" || fs.Heading == "L7" {
			t.Fatalf("node %s past depth cap appeared in output", fs.Heading)
		}
	}
	if flat[4].Index != "1.1.1.1.1" {
		t.Fatalf("expected deepest index 1.1.1.1.1, got %s", flat[4].Index)
	}
}

func TestSelectByTitle(t *testing.T) {
	flat := Flatten(sampleTree())
	hits := SelectByTitle(flat, "part b")
	if len(hits) != 1 || hits[0].Index != "1.2.0.0.0" {
		t.Fatalf("unexpected selection: %+v", hits)
	}
	if miss := SelectByTitle(flat, "No Such Chapter"); len(miss) != 0 {
		t.Fatalf("expected empty selection for unknown title, got %+v", miss)
	}
	if all := SelectByTitle(flat, ""); len(all) != len(flat) {
		t.Fatalf("empty title should select everything")
	}
}

func TestChunkSentenceBoundaries(t *testing.T) {
	chunks := Chunk("A. B. C.", 3, 400)
	want := []string{"A.", "B.", "C."}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("expected %v, got %v", want, chunks)
	}
}

func TestChunkAccumulatesUnderBudget(t *testing.T) {
	chunks := Chunk("One two. Three four. Five six.", 25, 400)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != "One two. Three four." {
		t.Fatalf("unexpected first chunk: %q", chunks[0])
	}
}

func TestChunkBudgetHeld(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog. " +
		"Pack my box with five dozen liquor jugs. " +
		"How vexingly quick daft zebras jump!"
	for _, maxChars := range []int{10, 30, 80} {
		for _, chunk := range Chunk(text, maxChars, 400) {
			if len(chunk) > maxChars {
				t.Fatalf("chunk %q exceeds %d chars", chunk, maxChars)
			}
		}
	}
}

func TestChunkHardSplitsOversizedSentence(t *testing.T) {
	chunks := Chunk("abcdefghij", 4, 400)
	want := []string{"abcd", "efgh", "ij"}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("expected %v, got %v", want, chunks)
	}
}

func TestChunkTokenBudget(t *testing.T) {
	// Each sentence is one token by word count; a budget of one forces a
	// chunk per sentence even with a generous character budget.
	chunks := Chunk("Aa. Bb. Cc.", 1000, 1)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks under token budget, got %d: %v", len(chunks), chunks)
	}
}

func TestChunkSectionPlaceholder(t *testing.T) {
	fs := FlatSection{Index: "1.0.0.0.0", Heading: "Empty Chapter"}
	chunks := ChunkSection(fs, 100, 400)
	if len(chunks) != 1 || chunks[0] != NoContentText {
		t.Fatalf("expected single placeholder chunk, got %v", chunks)
	}
}

func TestCombined(t *testing.T) {
	fs := FlatSection{Heading: "Ch1", Content: "Body."}
	if fs.Combined() != "Ch1\n\nBody." {
		t.Fatalf("unexpected combined text: %q", fs.Combined())
	}
	bare := FlatSection{Heading: "Ch2"}
	if bare.Combined() != "Ch2" {
		t.Fatalf("unexpected combined text for bare heading: %q", bare.Combined())
	}
}
