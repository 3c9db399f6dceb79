package models

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// maxInlineContentBytes caps the inflated size of inline document content
var maxInlineContentBytes int64 = 64 << 20

// IntakeMessage announces that one or more PDFs are available for
// processing. FileRef is the first of FileRefs. It is immutable once decoded.
type IntakeMessage struct {
	MessageID      string     `json:"messageId"`
	FileRef        string     `json:"fileRef"`
	FileRefs       []string   `json:"fileRefs,omitempty"`
	Subject        string     `json:"subject,omitempty"`
	Sender         string     `json:"sender,omitempty"`
	ReceivedAt     *time.Time `json:"receivedAt,omitempty"`
	Classification string     `json:"classification,omitempty"`
	GUID           string     `json:"guid,omitempty"`
	Attempts       int        `json:"attempts,omitempty"`

	// Inline document bytes, decoded from "content" or "fileBuffer"
	Content []byte `json:"-"`
}

// HasInlineContent reports whether the document travels inside the message
func (m *IntakeMessage) HasInlineContent() bool {
	return len(m.Content) > 0
}

// Refs returns every document reference in message order
func (m *IntakeMessage) Refs() []string {
	if len(m.FileRefs) > 0 {
		return m.FileRefs
	}
	if m.FileRef != "" {
		return []string{m.FileRef}
	}
	return nil
}

// UnmarshalJSON accepts the current field names plus the legacy ones emitted
// by the mail collector (pdf_rutas, host_absolute_path, absolute_path,
// clasificacion, guid, content with content_encoding gzip+base64).
func (m *IntakeMessage) UnmarshalJSON(data []byte) error {
	type Alias IntakeMessage
	aux := &struct {
		*Alias
		FileBuffer       interface{} `json:"fileBuffer,omitempty"`
		Content          string      `json:"content,omitempty"`
		ContentEncoding  string      `json:"content_encoding,omitempty"`
		PDFRoutes        []string    `json:"pdf_rutas,omitempty"`
		HostAbsolutePath string      `json:"host_absolute_path,omitempty"`
		AbsolutePath     string      `json:"absolute_path,omitempty"`
		Clasificacion    string      `json:"clasificacion,omitempty"`
		ID               string      `json:"id,omitempty"`
	}{
		Alias: (*Alias)(m),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("failed to unmarshal IntakeMessage: %w", err)
	}

	if m.MessageID == "" {
		m.MessageID = aux.ID
	}
	if m.MessageID == "" {
		m.MessageID = m.GUID
	}
	if m.Classification == "" {
		m.Classification = aux.Clasificacion
	}

	refs := trimRefs(m.FileRefs)
	if len(refs) == 0 {
		refs = trimRefs(aux.PDFRoutes)
	}
	if m.FileRef == "" {
		switch {
		case len(refs) > 0:
			m.FileRef = refs[0]
		case aux.HostAbsolutePath != "":
			m.FileRef = aux.HostAbsolutePath
		case aux.AbsolutePath != "":
			m.FileRef = aux.AbsolutePath
		}
	}
	m.FileRefs = nil
	if len(refs) > 0 {
		m.FileRefs = append([]string{m.FileRef}, without(refs, m.FileRef)...)
	}
	if len(m.FileRefs) == 1 {
		m.FileRefs = nil
	}

	if aux.Content != "" {
		decoded, err := decodeContent(aux.Content, aux.ContentEncoding)
		if err != nil {
			return err
		}
		m.Content = decoded
	}

	if aux.FileBuffer != nil && m.Content == nil {
		decoded, err := decodeFileBuffer(aux.FileBuffer)
		if err != nil {
			return err
		}
		m.Content = decoded
	}

	return nil
}

func trimRefs(refs []string) []string {
	var out []string
	for _, r := range refs {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func without(refs []string, ref string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r != ref {
			out = append(out, r)
		}
	}
	return out
}

func decodeContent(content, encoding string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 content: %w", err)
	}

	switch strings.ToLower(encoding) {
	case "", "base64":
		// gzip magic bytes still win when the encoding label is missing
		if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
			return raw, nil
		}
		fallthrough
	case "gzip+base64", "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip content: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, maxInlineContentBytes+1))
		if err != nil {
			return nil, fmt.Errorf("failed to inflate content: %w", err)
		}
		if int64(len(out)) > maxInlineContentBytes {
			return nil, fmt.Errorf("inflated content exceeds %d bytes", maxInlineContentBytes)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported content_encoding %q", encoding)
	}
}

// decodeFileBuffer supports both a base64 string and the Node.js Buffer
// object shape {"type":"Buffer","data":[...]}.
func decodeFileBuffer(v interface{}) ([]byte, error) {
	switch buf := v.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		return decoded, nil

	case map[string]interface{}:
		if bufferType, ok := buf["type"].(string); !ok || bufferType != "Buffer" {
			return nil, fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := buf["data"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("Buffer object missing 'data' array")
		}
		out := make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 || byteVal != float64(int(byteVal)) {
				return nil, fmt.Errorf("invalid byte value in Buffer data array at index %d: %v", i, val)
			}
			out[i] = byte(byteVal)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}
}
