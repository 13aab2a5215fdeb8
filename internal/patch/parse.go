package patch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Block markers of the search/replace wire format:
//
//	<<<< SEARCH
//	[exact lines to replace]
//	====
//	[replacement lines]
//	>>>>
const (
	SearchMarker  = "<<<< SEARCH"
	DividerMarker = "===="
	EndMarker     = ">>>>"
)

type parseState int

const (
	outside parseState = iota
	inSearch
	inReplace
)

// Parse extracts patches for path from a free-text service response. Blocks
// may be surrounded by prose or code fences. When no block is present, a
// JSON array of {"search", "replace"} objects is accepted instead. A response
// with no patch, an unterminated block, an empty search text, or a block whose
// replacement equals its search text is malformed.
func Parse(path, response string) ([]Patch, error) {
	response = strings.ReplaceAll(response, "\r\n", "\n")

	patches, err := parseBlocks(path, response)
	if err != nil {
		return nil, err
	}
	if len(patches) == 0 {
		patches, err = parseJSON(path, response)
		if err != nil {
			return nil, err
		}
	}
	if len(patches) == 0 {
		return nil, fmt.Errorf("no search/replace block found: %w", ErrMalformed)
	}
	for i, p := range patches {
		if p.Search == "" {
			return nil, fmt.Errorf("block %d: empty search text: %w", i+1, ErrMalformed)
		}
		if p.Search == p.Replace {
			return nil, fmt.Errorf("block %d: replacement identical to search text: %w", i+1, ErrMalformed)
		}
	}
	return patches, nil
}

func parseBlocks(path, response string) ([]Patch, error) {
	var (
		patches         []Patch
		state           = outside
		search, replace []string
	)
	for _, line := range strings.Split(response, "\n") {
		marker := strings.TrimSpace(line)
		switch state {
		case outside:
			if marker == SearchMarker {
				state = inSearch
				search, replace = nil, nil
			}
		case inSearch:
			switch marker {
			case DividerMarker:
				state = inReplace
			case SearchMarker, EndMarker:
				return nil, fmt.Errorf("unexpected %q inside search section: %w", marker, ErrMalformed)
			default:
				search = append(search, line)
			}
		case inReplace:
			switch marker {
			case EndMarker:
				patches = append(patches, Patch{
					Path:    path,
					Search:  strings.Join(search, "\n"),
					Replace: strings.Join(replace, "\n"),
				})
				state = outside
			case SearchMarker, DividerMarker:
				return nil, fmt.Errorf("unexpected %q inside replace section: %w", marker, ErrMalformed)
			default:
				replace = append(replace, line)
			}
		}
	}
	if state != outside {
		return nil, fmt.Errorf("unterminated search/replace block: %w", ErrMalformed)
	}
	return patches, nil
}

// jsonEdit is the alternative structured response shape.
type jsonEdit struct {
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

// parseJSON accepts a JSON array of edits, optionally wrapped in a code fence
// or prose. Responses that do not contain an array yield no patches.
func parseJSON(path, response string) ([]Patch, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start < 0 || end <= start {
		return nil, nil
	}
	var edits []jsonEdit
	if err := json.Unmarshal([]byte(response[start:end+1]), &edits); err != nil {
		return nil, nil
	}
	patches := make([]Patch, 0, len(edits))
	for _, e := range edits {
		patches = append(patches, Patch{Path: path, Search: e.Search, Replace: e.Replace})
	}
	return patches, nil
}

// Format renders patches in the block wire format.
func Format(patches []Patch) string {
	var b strings.Builder
	for i, p := range patches {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(SearchMarker + "\n")
		b.WriteString(p.Search + "\n")
		b.WriteString(DividerMarker + "\n")
		if p.Replace != "" {
			b.WriteString(p.Replace + "\n")
		}
		b.WriteString(EndMarker + "\n")
	}
	return b.String()
}
