package domain

type Provenance string

const (
	ProvenanceDense  Provenance = "dense"
	ProvenanceSparse Provenance = "sparse"
	ProvenanceHybrid Provenance = "hybrid"
)

// SearchFilter restricts retrieval by metadata. Zero value matches everything.
type SearchFilter struct {
	Sources  []SourceKind
	Category string
}

func (f SearchFilter) IsZero() bool {
	return len(f.Sources) == 0 && f.Category == ""
}

func (f SearchFilter) Match(m Metadata) bool {
	if m == nil {
		return f.IsZero()
	}
	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if s == m.Source() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Category != "" && CategoryOf(m) != f.Category {
		return false
	}
	return true
}

// SearchResult is one ranked passage. Score holds the leg's normalised
// similarity for dense/sparse results and the combined score after fusion.
type SearchResult struct {
	ChunkID        string     `json:"chunk_id"`
	Text           string     `json:"text"`
	Metadata       Metadata   `json:"-"`
	Score          float64    `json:"score"`
	RawScore       float64    `json:"raw_score"`
	DenseScore     float64    `json:"dense_score"`
	SparseScore    float64    `json:"sparse_score"`
	Provenance     Provenance `json:"provenance"`
	BelowThreshold bool       `json:"below_threshold,omitempty"`
}

type Citation struct {
	Label  string     `json:"label"`
	Title  string     `json:"title"`
	Source SourceKind `json:"source"`
	Score  float64    `json:"score"`
}

type Answer struct {
	Text      string     `json:"answer"`
	Citations []Citation `json:"citations"`
	// Grounded is false when the prompt carried no usable context.
	Grounded bool `json:"grounded"`
	// Context is one of "grounded", "fallback" or "empty".
	Context string `json:"context"`
}
