// Package source turns a free-text query, a web page URL, or an uploaded
// document into plain text for prompt assembly. Extraction never fails
// outright: a failed extraction carries a human-readable placeholder in Text
// and the cause in Err, so later stages can keep going.
package source

import "strings"

// Kind tags where an Ingested payload came from.
type Kind int

const (
	KindQuery Kind = iota + 1
	KindURL
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindURL:
		return "url"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Ingested is the per-request result of extracting one source.
type Ingested struct {
	Kind   Kind
	Origin string
	Text   string
	Err    error
}

// OK reports whether extraction produced real content rather than a placeholder.
func (i Ingested) OK() bool { return i.Err == nil }

// Substantive reports whether the payload is usable content worth summarizing.
func (i Ingested) Substantive() bool {
	return i.OK() && strings.TrimSpace(i.Text) != ""
}

// Query wraps raw question text.
func Query(text string) Ingested {
	return Ingested{Kind: KindQuery, Text: text}
}

// Text wraps already-extracted document text, such as the file_text field of
// an HTTP request.
func Text(origin, text string) Ingested {
	return Ingested{Kind: KindFile, Origin: origin, Text: text}
}
