package models

import "fmt"

// Page is the text of one physical (or logical) page of a document
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Document is a parsed upload: a name and its ordered pages
type Document struct {
	Name  string `json:"name"`
	Pages []Page `json:"pages"`
}

// Len returns the total number of characters over all pages
func (d Document) Len() int {
	n := 0
	for _, p := range d.Pages {
		n += len([]rune(p.Text))
	}
	return n
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Text           string `json:"text"`
	SourceDocument string `json:"source_document"`
	PageNumber     int    `json:"page_number"`
	ChunkIndex     int    `json:"chunk_index"`
}

// Label is the provenance tag shown to the model, e.g. "report.pdf p.3-7"
func (c Chunk) Label() string {
	return fmt.Sprintf("%s p.%d-%d", c.SourceDocument, c.PageNumber, c.ChunkIndex)
}

// Source is a retrieved chunk together with its similarity to the question
type Source struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// VectorHit is a single vector store match
type VectorHit struct {
	ID    int
	Score float32
}

type QueryResult struct {
	Answer      string   `json:"answer"`
	Sources     []Source `json:"sources"`
	RawResponse string   `json:"-"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
