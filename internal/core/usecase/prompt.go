package usecase

import (
	"fmt"
	"strings"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

const docentSystemPrompt = `당신은 궁디팡팡 캣페스타의 전문 AI 도슨트입니다.
방문객들에게 브랜드 정보, 제품 추천, 부스 위치 등을 친절하게 안내합니다.

중요한 규칙:
1. 제공된 [Context]에 있는 정보만 사용하세요. Context에 없는 정보는 절대 만들어내지 마세요.
2. 정보가 없으면 "죄송하지만 해당 정보가 없습니다"라고 정확히 답하세요.
3. 부스 번호, 브랜드명 등 구체적인 정보는 반드시 Context에서 확인 후 답변하세요.
4. 이전 답변이 틀렸다면 솔직히 인정하고 Context 기반으로 정정하세요.
5. 친절하고 명확하게 답변하세요.
6. 한국어로만 답변하세요.
7. 브랜드 정보를 제공할 때는 부스 위치도 함께 안내하세요.
8. "Context에서 확인한 바", "Context에 제공된" 등 Context를 반복적으로 언급하지 마세요. 자연스럽게 답변하세요.

절대 금지:
- Context에 없는 부스 번호나 브랜드 정보를 지어내는 것
- 불확실한 정보를 확신하는 듯이 답변하는 것
- 이전 답변과 모순되는 정보를 제공하는 것
- "Context에서", "Context에 따르면" 등의 표현을 반복적으로 사용하는 것`

const (
	noContextText        = "관련 정보를 찾을 수 없습니다."
	answerInstruction    = "위의 Context를 참고하여 User Question에 답변해주세요. Context에 없는 정보는 절대 지어내지 마세요."
	noContextInstruction = "제공된 정보가 없습니다. 추측하거나 지어내지 말고, 해당 질문에 대한 정보가 없다고 솔직하게 답변해주세요."
	hedgeInstruction     = "아래 Context는 질문과의 관련성이 낮을 수 있습니다. 확실하지 않은 내용은 단정하지 말고, 정보가 부족하면 부족하다고 답변해주세요."
)

// PromptContext is the generation-ready rendering of a grounding result.
type PromptContext struct {
	SystemInstructions string
	Prompt             string
	ContextText        string
	Citations          []domain.Citation
	Empty              bool
	Hedged             bool
}

func assembleContext(query string, grounding GroundingResult, citationLimit int) PromptContext {
	out := PromptContext{
		SystemInstructions: docentSystemPrompt,
		Empty:              grounding.Empty || len(grounding.Results) == 0,
		Hedged:             grounding.Fallback,
	}

	if out.Empty {
		out.ContextText = noContextText
		out.Prompt = renderPrompt(out.ContextText, query, noContextInstruction)
		out.Citations = []domain.Citation{}
		return out
	}

	blocks := make([]string, 0, len(grounding.Results))
	for i, r := range grounding.Results {
		blocks = append(blocks, formatBlock(i+1, r))
	}
	out.ContextText = strings.Join(blocks, "\n\n")

	instruction := answerInstruction
	if out.Hedged {
		instruction = hedgeInstruction + "\n" + answerInstruction
	}
	out.Prompt = renderPrompt(out.ContextText, query, instruction)
	out.Citations = extractCitations(grounding.Results, citationLimit)
	return out
}

func renderPrompt(contextText, query, instruction string) string {
	return fmt.Sprintf("[Context]\n%s\n\n[User Question]\n%s\n\n[Answer]\n%s", contextText, query, instruction)
}

func formatBlock(i int, r domain.SearchResult) string {
	switch m := r.Metadata.(type) {
	case domain.BrandMetadata:
		return fmt.Sprintf("[%d] 브랜드: %s\n    카테고리: %s\n    부스 위치: %s\n    정보: %s", i, m.Name, m.Category, m.Booth, r.Text)
	case domain.WikiMetadata:
		return fmt.Sprintf("[%d] 출처: Wikipedia - %s (%s)\n    내용: %s", i, m.Title, m.Section, r.Text)
	case domain.FAQMetadata:
		return fmt.Sprintf("[%d] 출처: FAQ (%s)\n    내용: %s", i, m.Category, r.Text)
	case domain.EventMetadata:
		return fmt.Sprintf("[%d] 출처: 행사 정보 (%s)\n    내용: %s", i, m.Category, r.Text)
	default:
		return fmt.Sprintf("[%d] %s", i, r.Text)
	}
}

// extractCitations returns the first limit results in block order.
func extractCitations(results []domain.SearchResult, limit int) []domain.Citation {
	if limit <= 0 {
		limit = 3
	}
	results = trimCandidates(results, limit)
	out := make([]domain.Citation, 0, len(results))
	for i, r := range results {
		c := domain.Citation{
			Label: fmt.Sprintf("[%d]", i+1),
			Score: r.Score,
		}
		if r.Metadata != nil {
			c.Title = r.Metadata.CitationTitle()
			c.Source = r.Metadata.Source()
		}
		out = append(out, c)
	}
	return out
}
