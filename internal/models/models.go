// Package models holds the data that flows between intake, processing and
// the result sink.
package models

import (
	"path/filepath"
	"strings"
	"time"
)

// ExtractionMethod tells how a page's text was obtained
type ExtractionMethod string

const (
	MethodNative ExtractionMethod = "native"
	MethodOCR    ExtractionMethod = "ocr"
)

// PageText is the text of one page. Index is 0-based and contiguous.
type PageText struct {
	Index  int              `json:"index"`
	Text   string           `json:"text"`
	Method ExtractionMethod `json:"method"`
}

// Field names an extractable entity
type Field string

const (
	FieldCedula Field = "cedula"
	FieldName   Field = "name"
)

// Source tells which extractor family resolved a field
type Source string

const (
	SourcePattern Source = "pattern"
	SourceNLP     Source = "nlp"
)

// Confidence is the tier attached to a resolved field. There is no "none"
// tier: unresolved fields are simply absent.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// Match is one distinct value found in the document with the 1-based pages
// it appears on.
type Match struct {
	Value string `json:"value"`
	Pages []int  `json:"pages"`
}

// ExtractionResult is a resolved field. Value is the primary match.
type ExtractionResult struct {
	Field      Field      `json:"field"`
	Value      string     `json:"value"`
	Source     Source     `json:"source"`
	Confidence Confidence `json:"confidence"`
	Matches    []Match    `json:"matches,omitempty"`
}

// Values returns every distinct matched value, primary first.
func (r *ExtractionResult) Values() []string {
	if r == nil {
		return nil
	}
	if len(r.Matches) == 0 {
		return []string{r.Value}
	}
	out := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		out = append(out, m.Value)
	}
	return out
}

// SummaryEngine names the engine that produced a summary
type SummaryEngine string

const (
	EngineTextRank   SummaryEngine = "textrank"
	EngineFrequency  SummaryEngine = "frequency"
	EngineLead       SummaryEngine = "lead"
	EngineKeyPhrases SummaryEngine = "keyphrases"
	EngineNone       SummaryEngine = "none"
)

// Summary is an extractive summary of the normalized text
type Summary struct {
	Text      string        `json:"text"`
	Engine    SummaryEngine `json:"engine"`
	Sentences int           `json:"sentences"`
	Truncated bool          `json:"truncated"`
}

// Outcome is the final classification of a processed message
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// RecordError is the serialized failure detail on a failed record
type RecordError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ProcessingRecord is the output unit for one document of an intake
// message. PDFIndex is 1-based within the message's TotalPDFs documents.
type ProcessingRecord struct {
	RecordID       string              `json:"recordId"`
	MessageID      string              `json:"messageId,omitempty"`
	GUID           string              `json:"guid,omitempty"`
	Classification string              `json:"classification,omitempty"`
	Subject        string              `json:"subject,omitempty"`
	Sender         string              `json:"sender,omitempty"`
	FileRef        string              `json:"fileRef"`
	OriginalName   string              `json:"originalName"`
	StoredName     string              `json:"storedName"`
	PDFIndex       int                 `json:"pdfIndex"`
	TotalPDFs      int                 `json:"totalPdfs"`
	Pages          []PageText          `json:"pages,omitempty"`
	Extractions    []*ExtractionResult `json:"extractions"`
	Summary        *Summary            `json:"summary,omitempty"`
	Outcome        Outcome             `json:"outcome"`
	Error          *RecordError        `json:"error,omitempty"`
	Warnings       []string            `json:"warnings,omitempty"`
	ReceivedAt     *time.Time          `json:"receivedAt,omitempty"`
	ProcessedAt    time.Time           `json:"processedAt"`
	DurationMs     int64               `json:"durationMs"`
}

// Extraction returns the result for field, or nil when it was not resolved.
func (r *ProcessingRecord) Extraction(field Field) *ExtractionResult {
	for _, e := range r.Extractions {
		if e != nil && e.Field == field {
			return e
		}
	}
	return nil
}

// MapStrings returns a deep copy of the record with f applied to every text
// value it carries. Extractions is never nil in the copy.
func (r *ProcessingRecord) MapStrings(f func(string) string) *ProcessingRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.RecordID = f(r.RecordID)
	out.MessageID = f(r.MessageID)
	out.GUID = f(r.GUID)
	out.Classification = f(r.Classification)
	out.Subject = f(r.Subject)
	out.Sender = f(r.Sender)
	out.FileRef = f(r.FileRef)
	out.OriginalName = f(r.OriginalName)
	out.StoredName = f(r.StoredName)

	if r.Pages != nil {
		out.Pages = make([]PageText, len(r.Pages))
		for i, p := range r.Pages {
			p.Text = f(p.Text)
			out.Pages[i] = p
		}
	}

	out.Extractions = make([]*ExtractionResult, 0, len(r.Extractions))
	for _, e := range r.Extractions {
		if e == nil {
			continue
		}
		c := *e
		c.Value = f(e.Value)
		if e.Matches != nil {
			c.Matches = make([]Match, len(e.Matches))
			for i, m := range e.Matches {
				c.Matches[i] = Match{Value: f(m.Value), Pages: append([]int(nil), m.Pages...)}
			}
		}
		out.Extractions = append(out.Extractions, &c)
	}

	if r.Summary != nil {
		summary := *r.Summary
		summary.Text = f(r.Summary.Text)
		out.Summary = &summary
	}

	if r.Error != nil {
		recErr := RecordError{Code: f(r.Error.Code), Message: f(r.Error.Message)}
		if r.Error.Details != nil {
			recErr.Details = make(map[string]interface{}, len(r.Error.Details))
			for k, v := range r.Error.Details {
				if str, ok := v.(string); ok {
					v = f(str)
				}
				recErr.Details[f(k)] = v
			}
		}
		out.Error = &recErr
	}

	if r.Warnings != nil {
		out.Warnings = make([]string, len(r.Warnings))
		for i, w := range r.Warnings {
			out.Warnings[i] = f(w)
		}
	}
	return &out
}

// StemOf returns the file name without directory or .pdf extension
func StemOf(name string) string {
	base := filepath.Base(name)
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".pdf") {
		base = base[:len(base)-len(ext)]
	}
	return base
}

// Entity is a typed span reported by the cloud NLP service
type Entity struct {
	Type  string  `json:"type"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// KeyPhrase is a scored phrase reported by the cloud NLP service
type KeyPhrase struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}
