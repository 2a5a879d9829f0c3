// ABOUTME: Static reference corpus embedded in the binary and row-to-document conversion
// ABOUTME: Produces the documents the backend feeds into Index.Rebuild

package vector

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StaticSource is the Source of documents from the embedded corpus
const StaticSource = "static"

//go:embed corpus.yaml
var corpusYAML []byte

type corpusFile struct {
	Documents []Document `yaml:"documents"`
}

// StaticCorpus returns the embedded reference documents
func StaticCorpus() ([]Document, error) {
	return parseCorpus(corpusYAML)
}

func parseCorpus(data []byte) ([]Document, error) {
	var f corpusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing corpus: %w", err)
	}
	for i := range f.Documents {
		if f.Documents[i].ID == "" {
			return nil, fmt.Errorf("corpus document %d has no id", i)
		}
		f.Documents[i].Source = StaticSource
	}
	return f.Documents, nil
}

// nameColumns are checked in order for a row's display name
var nameColumns = []string{"title", "name", "label"}

// RowDocument converts a table row into an index document. The ID is
// "<table>:<rowid>". Text values are joined into the content.
func RowDocument(table string, rowID int64, columns []string, values map[string]any) Document {
	doc := Document{
		ID:       fmt.Sprintf("%s:%d", table, rowID),
		Category: table,
		Source:   table,
	}

	var texts []string
	firstText := ""
	for _, col := range columns {
		s, ok := textValue(values[col])
		if !ok {
			continue
		}
		if firstText == "" {
			firstText = s
		}
		texts = append(texts, s)
	}
	doc.Content = strings.Join(texts, " ")

	for _, col := range nameColumns {
		if s, ok := textValue(values[col]); ok {
			doc.Name = s
			break
		}
	}
	if doc.Name == "" {
		doc.Name = firstText
	}
	if doc.Name == "" {
		doc.Name = doc.ID
	}

	if s, ok := textValue(values["category"]); ok {
		doc.Category = s
	}
	return doc
}

func textValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}
