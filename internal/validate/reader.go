// Package validate implements the File Validator: header validation,
// duplicate-id/duplicate-data detection, and the tab-separated validation
// log the Load Orchestrator reports after a run.
package validate

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// openTabSeparated opens a tab-separated file, detecting UTF-8 first and
// falling back to windows-1252 when the content isn't valid UTF-8.
func openTabSeparated(path string) (*bufio.Scanner, func() error, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var reader io.Reader
	if utf8.Valid(raw) {
		reader = bytes.NewReader(raw)
	} else {
		decoder := charmap.Windows1252.NewDecoder()
		decoded, _, err := transform.Bytes(decoder, raw)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(decoded)
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return scanner, func() error { return nil }, nil
}
