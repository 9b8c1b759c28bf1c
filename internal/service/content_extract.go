package service

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Extraction caps keep detection prompts small; the opening of a document is
// what identifies an assignment.
const (
	pdfMaxPages  = 5
	pdfMaxChars  = 2000
	textMaxChars = 3000

	// Below this size a sparse PDF is plausibly just short.
	scannedPDFMinBytes = 10 * 1024
)

// ContentExtractor turns uploaded attachments into plain text for the
// detection pipeline. Unsupported binary formats yield an empty string, not
// an error.
type ContentExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

type contentExtractor struct {
	logger zerolog.Logger
}

// NewContentExtractor builds the default extractor.
func NewContentExtractor(logger zerolog.Logger) ContentExtractor {
	return &contentExtractor{
		logger: logger.With().Str("component", "content_extractor").Logger(),
	}
}

func (e *contentExtractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}

	kind := mimetype.Detect(data)
	switch {
	case kind.Is("application/pdf"):
		text, err := extractPDFText(data)
		if err != nil {
			e.logger.Warn().Err(err).Str("file", filename).Msg("pdf extraction failed")
			return "", err
		}
		if looksScanned(len(text), len(data)) {
			e.logger.Warn().
				Str("file", filename).
				Int("bytes", len(data)).
				Int("chars", len(text)).
				Msg("pdf yielded almost no text, likely scanned or image-only")
		}
		return text, nil
	case strings.HasPrefix(kind.String(), "text/"):
		return decodeText(data), nil
	default:
		e.logger.Debug().Str("file", filename).Str("mime", kind.String()).Msg("unsupported attachment type")
		return "", nil
	}
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	pages := reader.NumPage()
	if pages > pdfMaxPages {
		pages = pdfMaxPages
	}

	var builder strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(content)
		builder.WriteString("\n")
		if builder.Len() >= pdfMaxChars {
			break
		}
	}

	return truncateRunes(strings.TrimSpace(builder.String()), pdfMaxChars), nil
}

// decodeText tries a sequence of encodings, most specific first. UTF-16 is
// attempted only behind a byte order mark: the decoder accepts arbitrary byte
// streams, so without the BOM gate it would swallow Latin-1 input. Latin-1
// itself accepts any byte sequence, so the chain always produces something.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return truncateRunes(string(data), textMaxChars)
	}

	if hasUTF16BOM(data) {
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if decoded, err := decoder.Bytes(data); err == nil && utf8.Valid(decoded) {
			return truncateRunes(string(decoded), textMaxChars)
		}
	}

	decoders := []*encoding.Decoder{
		charmap.ISO8859_1.NewDecoder(),
		charmap.Windows1252.NewDecoder(),
	}
	for _, decoder := range decoders {
		if decoded, err := decoder.Bytes(data); err == nil && utf8.Valid(decoded) {
			return truncateRunes(string(decoded), textMaxChars)
		}
	}

	return ""
}

// looksScanned flags PDFs whose extracted character count is implausibly
// small for their byte size, which usually means image-only pages. No OCR is
// attempted; the flag only drives a log line.
func looksScanned(chars, bytes int) bool {
	if bytes < scannedPDFMinBytes {
		return false
	}

	return chars < bytes/1024
}

func hasUTF16BOM(data []byte) bool {
	if len(data) < 2 {
		return false
	}

	return (data[0] == 0xFF && data[1] == 0xFE) || (data[0] == 0xFE && data[1] == 0xFF)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)

	return string(runes[:limit])
}
