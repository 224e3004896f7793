package validate

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Report aggregates the per-file results of a full validation pass over a
// dataset, in the order the files were validated.
type Report struct {
	DataModelVersion string
	Files            []FileResult
}

// Passed reports whether every file in the report passed validation.
func (r Report) Passed() bool {
	for _, f := range r.Files {
		if !f.Passed {
			return false
		}
	}
	return true
}

// TotalViolations counts every recorded violation across all files.
func (r Report) TotalViolations() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Violations)
	}
	return n
}

// WriteLog renders the report as the tab-separated validation log: a banner
// with the data-model version and the input filenames, followed by a header
// row and one row per violation.
func WriteLog(w io.Writer, r Report) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Data model version: %s\n", r.DataModelVersion)
	var names []string
	for _, f := range r.Files {
		names = append(names, f.Filename)
	}
	fmt.Fprintf(bw, "Input files:\n%s\n\n", strings.Join(names, "\n"))

	fmt.Fprintln(bw, "Filename\tLineNumber\tOffendingColumn\tOffendingValue\tOffendingReason")

	for _, f := range r.Files {
		for _, v := range f.Violations {
			lines := make([]string, len(v.LineNumbers))
			for i, n := range v.LineNumbers {
				lines[i] = fmt.Sprintf("%d", n)
			}
			fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%s\n",
				v.Filename,
				strings.Join(lines, ","),
				v.OffendingColumn,
				v.OffendingValue,
				v.Reason,
			)
		}
	}

	return bw.Flush()
}
