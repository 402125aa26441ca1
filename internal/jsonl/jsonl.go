// Package jsonl reads content items for batch classification.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// maxLine bounds a single JSONL record.
const maxLine = 16 << 20

// Item is one content item: an id and its raw body
type Item struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// Load reads items from a JSONL file. Malformed lines and records without an
// id are skipped with a warning.
func Load(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	items, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no valid items found in %s", path)
	}
	return items, nil
}

// Read decodes one item per non-blank line.
func Read(r io.Reader) ([]Item, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var items []Item
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		var item Item
		if err := json.Unmarshal([]byte(text), &item); err != nil {
			log.Printf("Warning: skipping malformed JSON at line %d: %v", line, err)
			continue
		}
		if item.ID == "" {
			log.Printf("Warning: skipping line %d: missing id", line)
			continue
		}
		items = append(items, item)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
