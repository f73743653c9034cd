package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

// crawlerOnlyKeys are brand fields the crawler exports for display. They are
// already folded into the chunk text and have no metadata field of their own.
var crawlerOnlyKeys = []string{"master_category", "description", "homepage", "instagram", "all_categories"}

// stripCrawlerKeys removes crawlerOnlyKeys from brand records in place and
// returns how many keys it dropped. Other sources are left untouched so the
// metadata decoder still rejects their unknown keys.
func stripCrawlerKeys(records []domain.ChunkRecord) int {
	dropped := 0
	for _, record := range records {
		source, _ := record.Metadata["source"].(string)
		kind, err := domain.ParseSourceKind(source)
		if err != nil || kind != domain.SourceBrand {
			continue
		}
		for _, key := range crawlerOnlyKeys {
			if _, ok := record.Metadata[key]; ok {
				delete(record.Metadata, key)
				dropped++
			}
		}
	}
	return dropped
}

// readRecords accepts a JSON array, a {"chunks": [...]} object, or one
// record per line.
func readRecords(r io.Reader) ([]domain.ChunkRecord, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("chunks input is empty")
	}

	if trimmed[0] == '[' {
		var records []domain.ChunkRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode chunk array: %w", err)
		}
		return records, nil
	}

	var wrapped struct {
		Chunks []domain.ChunkRecord `json:"chunks"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err == nil && wrapped.Chunks != nil {
		return wrapped.Chunks, nil
	}

	records := make([]domain.ChunkRecord, 0)
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var record domain.ChunkRecord
		if err := json.Unmarshal(text, &record); err != nil {
			return nil, fmt.Errorf("decode chunk on line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	return records, nil
}
