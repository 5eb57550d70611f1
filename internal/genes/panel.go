package genes

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadPanel reads a single-column gene list. Only the first tab-separated field
// of each line is used. When header is true the first non-empty line is skipped.
func ReadPanel(r io.Reader, header bool) (MarkerSet, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var genes []string
	skipped := !header
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !skipped {
			skipped = true
			continue
		}
		field, _, _ := strings.Cut(line, "\t")
		genes = append(genes, field)
	}
	if err := scanner.Err(); err != nil {
		return MarkerSet{}, fmt.Errorf("failed to read panel: %w", err)
	}
	return NewMarkerSet(genes...), nil
}

// LoadPanel reads a gene panel file from disk.
func LoadPanel(path string, header bool) (MarkerSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return MarkerSet{}, fmt.Errorf("failed to open panel %s: %w", path, err)
	}
	defer f.Close()

	return ReadPanel(f, header)
}
