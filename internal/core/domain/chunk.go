package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type SourceKind string

const (
	SourceBrand SourceKind = "brand"
	SourceWiki  SourceKind = "wiki"
	SourceFAQ   SourceKind = "faq"
	SourceEvent SourceKind = "event"
)

var sourceAliases = map[string]SourceKind{
	"brand":           SourceBrand,
	"gdpp_brand":      SourceBrand,
	"wiki":            SourceWiki,
	"wikipedia":       SourceWiki,
	"faq":             SourceFAQ,
	"gdpp_faq":        SourceFAQ,
	"event":           SourceEvent,
	"gdpp_event_info": SourceEvent,
}

// ParseSourceKind resolves a source name, including crawler aliases.
func ParseSourceKind(raw string) (SourceKind, error) {
	kind, ok := sourceAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", WrapError(ErrInvalidInput, "parse source", fmt.Errorf("unknown source %q", raw))
	}
	return kind, nil
}

// Metadata is the per-source record attached to a chunk. The set of
// implementations is closed: BrandMetadata, WikiMetadata, FAQMetadata and
// EventMetadata.
type Metadata interface {
	Source() SourceKind
	CitationTitle() string
	sealedMetadata()
}

type BrandMetadata struct {
	Name     string
	Category string
	Booth    string
	URL      string
	Tags     []string
}

type WikiMetadata struct {
	Title   string
	Section string
	URL     string
}

type FAQMetadata struct {
	Category string
	URL      string
}

type EventMetadata struct {
	Category string
	URL      string
}

func (BrandMetadata) Source() SourceKind { return SourceBrand }
func (WikiMetadata) Source() SourceKind  { return SourceWiki }
func (FAQMetadata) Source() SourceKind   { return SourceFAQ }
func (EventMetadata) Source() SourceKind { return SourceEvent }

func (m BrandMetadata) CitationTitle() string { return m.Name }
func (m WikiMetadata) CitationTitle() string  { return m.Title }
func (m FAQMetadata) CitationTitle() string   { return m.Category }
func (m EventMetadata) CitationTitle() string { return m.Category }

func (BrandMetadata) sealedMetadata() {}
func (WikiMetadata) sealedMetadata()  {}
func (FAQMetadata) sealedMetadata()   {}
func (EventMetadata) sealedMetadata() {}

// CategoryOf returns the category field for variants that carry one.
func CategoryOf(m Metadata) string {
	switch v := m.(type) {
	case BrandMetadata:
		return v.Category
	case FAQMetadata:
		return v.Category
	case EventMetadata:
		return v.Category
	default:
		return ""
	}
}

// Chunk is the atomic unit of indexed corpus text.
type Chunk struct {
	ID       string
	Text     string
	Metadata Metadata
}

// ChunkRecord is the ingestion wire shape: flat metadata keyed by the fixed
// per-source field names.
type ChunkRecord struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

type chunkJSON struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

func (c Chunk) MarshalJSON() ([]byte, error) {
	return json.Marshal(chunkJSON{ID: c.ID, Text: c.Text, Metadata: EncodeMetadata(c.Metadata)})
}

func (c *Chunk) UnmarshalJSON(data []byte) error {
	var raw chunkJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	meta, err := DecodeMetadata(raw.Metadata)
	if err != nil {
		return err
	}
	c.ID = raw.ID
	c.Text = raw.Text
	c.Metadata = meta
	return nil
}

var allowedMetadataKeys = map[SourceKind]map[string]string{
	SourceBrand: {
		"brand_name":     "name",
		"name":           "name",
		"category":       "category",
		"booth_number":   "booth",
		"booth_location": "booth",
		"booth":          "booth",
		"url":            "url",
		"tags":           "tags",
	},
	SourceWiki: {
		"title":   "title",
		"section": "section",
		"url":     "url",
	},
	SourceFAQ: {
		"category": "category",
		"url":      "url",
	},
	SourceEvent: {
		"category": "category",
		"url":      "url",
	},
}

// DecodeMetadata converts a flat metadata object into its source variant.
// Keys outside the variant's fixed field set are rejected.
func DecodeMetadata(raw map[string]any) (Metadata, error) {
	sourceRaw, ok := raw["source"]
	if !ok {
		return nil, WrapError(ErrInvalidInput, "decode metadata", fmt.Errorf("missing source"))
	}
	sourceName, ok := sourceRaw.(string)
	if !ok {
		return nil, WrapError(ErrInvalidInput, "decode metadata", fmt.Errorf("source must be a string"))
	}
	kind, err := ParseSourceKind(sourceName)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(raw))
	var tags []string
	allowed := allowedMetadataKeys[kind]
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if key == "source" {
			continue
		}
		field, ok := allowed[key]
		if !ok {
			return nil, WrapError(ErrInvalidInput, "decode metadata", fmt.Errorf("key %q not allowed for source %s", key, kind))
		}
		if field == "tags" {
			tags, err = decodeTags(raw[key])
			if err != nil {
				return nil, err
			}
			continue
		}
		value, err := scalarString(key, raw[key])
		if err != nil {
			return nil, err
		}
		fields[field] = value
	}

	switch kind {
	case SourceBrand:
		return BrandMetadata{
			Name:     fields["name"],
			Category: fields["category"],
			Booth:    fields["booth"],
			URL:      fields["url"],
			Tags:     tags,
		}, nil
	case SourceWiki:
		return WikiMetadata{Title: fields["title"], Section: fields["section"], URL: fields["url"]}, nil
	case SourceFAQ:
		return FAQMetadata{Category: fields["category"], URL: fields["url"]}, nil
	default:
		return EventMetadata{Category: fields["category"], URL: fields["url"]}, nil
	}
}

// EncodeMetadata renders a variant back to its canonical flat form.
func EncodeMetadata(m Metadata) map[string]any {
	switch v := m.(type) {
	case BrandMetadata:
		out := map[string]any{
			"source":       string(SourceBrand),
			"brand_name":   v.Name,
			"category":     v.Category,
			"booth_number": v.Booth,
			"url":          v.URL,
		}
		if len(v.Tags) > 0 {
			tags := make([]any, 0, len(v.Tags))
			for _, tag := range v.Tags {
				tags = append(tags, tag)
			}
			out["tags"] = tags
		}
		return out
	case WikiMetadata:
		return map[string]any{"source": string(SourceWiki), "title": v.Title, "section": v.Section, "url": v.URL}
	case FAQMetadata:
		return map[string]any{"source": string(SourceFAQ), "category": v.Category, "url": v.URL}
	case EventMetadata:
		return map[string]any{"source": string(SourceEvent), "category": v.Category, "url": v.URL}
	default:
		return map[string]any{}
	}
}

func scalarString(key string, v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case int, int64, bool:
		return fmt.Sprintf("%v", val), nil
	default:
		return "", WrapError(ErrInvalidInput, "decode metadata", fmt.Errorf("key %q must be a scalar", key))
	}
}

func decodeTags(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return splitTags(strings.Split(val, ",")), nil
	case []string:
		return splitTags(val), nil
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, WrapError(ErrInvalidInput, "decode metadata", fmt.Errorf("tags must be strings"))
			}
			parts = append(parts, s)
		}
		return splitTags(parts), nil
	default:
		return nil, WrapError(ErrInvalidInput, "decode metadata", fmt.Errorf("tags must be a list or comma separated string"))
	}
}

func splitTags(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
