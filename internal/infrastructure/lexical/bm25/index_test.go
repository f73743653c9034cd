package bm25

import (
	"math"
	"testing"

	"golang.org/x/text/unicode/norm"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

func brandChunk(id, text, name string) domain.Chunk {
	return domain.Chunk{ID: id, Text: text, Metadata: domain.BrandMetadata{Name: name}}
}

func TestQueryScoresScenarioDocumentWithLengthNormalisation(t *testing.T) {
	ix := Build([]domain.Chunk{
		brandChunk("chunk_0", "브랜드명: 테스트브랜드\n부스 번호: A-1", "테스트브랜드"),
	}, DefaultOptions())

	results := ix.Query(ix.Tokenize("테스트브랜드 부스 번호"), 10, domain.SearchFilter{})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	// "테스트브랜드" and "부스" match; "번호" differs from "번호:" under whitespace tokenization.
	want := 2 * math.Log(1+0.5/1.5)
	if math.Abs(results[0].RawScore-want) > 1e-9 {
		t.Fatalf("expected raw score %.6f, got %.6f", want, results[0].RawScore)
	}
	if math.Abs(results[0].Score-want/(want+1)) > 1e-9 {
		t.Fatalf("expected normalised score s/(s+1), got %.6f", results[0].Score)
	}
	if results[0].Provenance != domain.ProvenanceSparse {
		t.Fatalf("expected sparse provenance, got %s", results[0].Provenance)
	}
}

func TestQueryRecallsExactKeyword(t *testing.T) {
	ix := Build([]domain.Chunk{
		brandChunk("chunk_0", "고양이 간식 브랜드 소개", "냥간식"),
		brandChunk("chunk_1", "브랜드명: 테스트브랜드 부스 번호: A-1", "테스트브랜드"),
		brandChunk("chunk_2", "캣타워 전문 브랜드", "캣타워"),
	}, DefaultOptions())

	results := ix.Query(ix.Tokenize("테스트브랜드 어디 있어요"), 2, domain.SearchFilter{})
	if len(results) == 0 || results[0].ChunkID != "chunk_1" {
		t.Fatalf("expected chunk_1 first, got %+v", results)
	}
}

func TestQueryExcludesZeroScoreDocuments(t *testing.T) {
	ix := Build([]domain.Chunk{
		brandChunk("chunk_0", "alpha beta", "a"),
		brandChunk("chunk_1", "gamma delta", "b"),
	}, DefaultOptions())

	results := ix.Query([]string{"alpha"}, 10, domain.SearchFilter{})
	if len(results) != 1 {
		t.Fatalf("expected only the matching document, got %d", len(results))
	}
	if got := ix.Query([]string{"omega"}, 10, domain.SearchFilter{}); len(got) != 0 {
		t.Fatalf("expected no results for unknown term, got %d", len(got))
	}
}

func TestQueryTieBreaksByIndexOrder(t *testing.T) {
	ix := Build([]domain.Chunk{
		brandChunk("chunk_b", "same words here", "b"),
		brandChunk("chunk_a", "same words here", "a"),
	}, DefaultOptions())

	results := ix.Query([]string{"same"}, 10, domain.SearchFilter{})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "chunk_b" {
		t.Fatalf("expected original index order to win ties, got %s first", results[0].ChunkID)
	}
}

func TestQueryIsDeterministicAcrossRebuilds(t *testing.T) {
	chunks := []domain.Chunk{
		brandChunk("chunk_0", "고양이 사료 고양이 모래", "a"),
		brandChunk("chunk_1", "고양이 장난감", "b"),
		brandChunk("chunk_2", "강아지 사료", "c"),
	}
	first := Build(chunks, DefaultOptions()).Query([]string{"고양이", "사료"}, 3, domain.SearchFilter{})
	second := Build(chunks, DefaultOptions()).Query([]string{"고양이", "사료"}, 3, domain.SearchFilter{})
	if len(first) != len(second) {
		t.Fatalf("result sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ChunkID != second[i].ChunkID || first[i].RawScore != second[i].RawScore {
			t.Fatalf("rank %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestQueryAppliesMetadataFilter(t *testing.T) {
	ix := Build([]domain.Chunk{
		brandChunk("chunk_0", "입장권 가격 안내", "a"),
		{ID: "chunk_1", Text: "입장권 환불 안내", Metadata: domain.FAQMetadata{Category: "티켓"}},
	}, DefaultOptions())

	results := ix.Query([]string{"입장권"}, 10, domain.SearchFilter{Sources: []domain.SourceKind{domain.SourceFAQ}})
	if len(results) != 1 || results[0].ChunkID != "chunk_1" {
		t.Fatalf("expected only the faq chunk, got %+v", results)
	}
}

func TestWhitespaceTokenizerKeepsCase(t *testing.T) {
	tokens := WhitespaceTokenizer("  GDPP 캣페어\t부스 Gdpp  ")
	want := []string{"GDPP", "캣페어", "부스", "Gdpp"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %v, got %v", want, tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, tokens)
		}
	}

	ix := Build([]domain.Chunk{brandChunk("chunk_0", "GDPP 굿즈", "A")}, DefaultOptions())
	if got := ix.Query([]string{"gdpp"}, 10, domain.SearchFilter{}); len(got) != 0 {
		t.Fatalf("expected no match for lower-cased query, got %+v", got)
	}
	if got := ix.Query([]string{"GDPP"}, 10, domain.SearchFilter{}); len(got) != 1 {
		t.Fatalf("expected exact-case match, got %+v", got)
	}
}

func TestUnicodeTokenizerNormalisesDecomposedHangul(t *testing.T) {
	decomposed := norm.NFD.String("테스트브랜드, 부스!")
	tokens := UnicodeTokenizer(decomposed)
	if len(tokens) != 2 || tokens[0] != "테스트브랜드" || tokens[1] != "부스" {
		t.Fatalf("unexpected tokens: %q", tokens)
	}
}
