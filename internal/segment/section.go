package segment

import "strings"

// Section is one node of a document's heading hierarchy as delivered by
// the extraction backend. Content is either a string or a list of
// strings; anything else collapses to empty.
type Section struct {
	Heading     string    `json:"heading"`
	Content     any       `json:"content"`
	Subsections []Section `json:"subsections,omitempty"`
}

// ContentText normalizes the content field. List entries are joined with
// newlines; non-string, non-list content yields an empty string.
func (s Section) ContentText() string {
	switch v := s.Content.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, "\n")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
