package sanityml

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sugawarayuuta/sonnet"
)

// A NotebookError indicates notebook JSON that could not be interpreted. It
// surfaces as a warn finding on the notebook, not as a scan failure.
type NotebookError struct {
	Err error
}

func (e *NotebookError) Error() string {
	return fmt.Sprintf("cannot extract notebook cells: %v", e.Err)
}

func (e *NotebookError) Unwrap() error { return e.Err }

type notebookCell struct {
	CellType string `json:"cell_type"`
	Source   any    `json:"source"`
}

type notebookFile struct {
	Cells []notebookCell `json:"cells"`
}

// A codeCell is one executable notebook cell: its 1-based position among all
// cells and its concatenated source.
type codeCell struct {
	index  int
	source string
}

// extractCells pulls the executable code cells out of notebook JSON. Cells
// that are empty or comment-only are skipped; markdown and raw cells are
// never scanned.
func extractCells(data []byte) ([]codeCell, error) {
	var nb notebookFile
	if err := sonnet.NewDecoder(bytes.NewReader(data)).Decode(&nb); err != nil {
		return nil, &NotebookError{Err: err}
	}
	if len(nb.Cells) == 0 {
		return nil, &NotebookError{Err: fmt.Errorf("no cells")}
	}

	var cells []codeCell
	for i, cell := range nb.Cells {
		if cell.CellType != "code" {
			continue
		}
		source := cellSource(cell.Source)
		if !hasCode(source) {
			continue
		}
		cells = append(cells, codeCell{index: i + 1, source: source})
	}
	return cells, nil
}

// cellSource normalizes the two JSON spellings of cell source: a single
// string or a list of line strings.
func cellSource(v any) string {
	switch src := v.(type) {
	case string:
		return src
	case []any:
		var b strings.Builder
		for _, line := range src {
			if s, ok := line.(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	default:
		return ""
	}
}

func hasCode(source string) bool {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			return true
		}
	}
	return false
}
