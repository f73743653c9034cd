package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

func TestReadRecordsAcceptsAllLayouts(t *testing.T) {
	cases := map[string]string{
		"array": `[{"text":"a","metadata":{"source":"faq"}},{"text":"b","metadata":{"source":"wiki","title":"고양이"}}]`,
		"object": `{"chunks":[{"text":"a","metadata":{"source":"faq"}},
			{"text":"b","metadata":{"source":"wiki","title":"고양이"}}]}`,
		"jsonl": "{\"text\":\"a\",\"metadata\":{\"source\":\"faq\"}}\n\n{\"text\":\"b\",\"metadata\":{\"source\":\"wiki\",\"title\":\"고양이\"}}\n",
	}
	for name, input := range cases {
		records, err := readRecords(strings.NewReader(input))
		if err != nil {
			t.Fatalf("%s: readRecords() error = %v", name, err)
		}
		if len(records) != 2 || records[1].Text != "b" || records[1].Metadata["title"] != "고양이" {
			t.Fatalf("%s: unexpected records %+v", name, records)
		}
	}
}

func TestReadRecordsReportsBadLine(t *testing.T) {
	_, err := readRecords(strings.NewReader("{\"text\":\"a\"}\n{broken\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 decode error, got %v", err)
	}
	if _, err := readRecords(strings.NewReader("  ")); err == nil {
		t.Fatalf("expected empty input error")
	}
}

func TestStripCrawlerKeysAcceptsPreprocessedBrandRecord(t *testing.T) {
	input := `[{"text":"브랜드명: 냥이네\n카테고리: 간식\n부스 번호: A-12","metadata":{
		"source":"gdpp_brand","brand_name":"냥이네","booth_number":"A-12","category":"간식",
		"master_category":"푸드","description":"수제 간식","homepage":"https://nyang.example",
		"instagram":"@nyang","tags":"츄르, 동결건조","all_categories":"간식,푸드",
		"url":"https://gdpp.example/brand/12"}},
		{"text":"고양이는 포유류이다","metadata":{"source":"wikipedia","title":"고양이","description":"x"}}]`
	records, err := readRecords(strings.NewReader(input))
	if err != nil {
		t.Fatalf("readRecords() error = %v", err)
	}

	if dropped := stripCrawlerKeys(records); dropped != 5 {
		t.Fatalf("expected 5 dropped keys, got %d", dropped)
	}
	meta, err := domain.DecodeMetadata(records[0].Metadata)
	if err != nil {
		t.Fatalf("DecodeMetadata() error = %v", err)
	}
	brand, ok := meta.(domain.BrandMetadata)
	if !ok {
		t.Fatalf("expected BrandMetadata, got %T", meta)
	}
	if brand.Name != "냥이네" || brand.Booth != "A-12" || len(brand.Tags) != 2 {
		t.Fatalf("unexpected brand metadata %+v", brand)
	}

	// Only brand records are relaxed.
	if _, err := domain.DecodeMetadata(records[1].Metadata); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for wiki description, got %v", err)
	}
}
