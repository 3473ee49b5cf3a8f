package extract

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/fairledger/ledger-cli/internal/model"
)

// FileExtractor reads pre-extracted field JSON straight from the payload.
// Used for structured document feeds and as the test double for the LLM
// adapter.
type FileExtractor struct {
	baseDir string
}

// NewFileExtractor creates a FileExtractor resolving relative payload refs
// against baseDir.
func NewFileExtractor(baseDir string) *FileExtractor {
	return &FileExtractor{baseDir: baseDir}
}

func (e *FileExtractor) Extract(ctx context.Context, doc model.Document) (*model.RawFields, error) {
	path := doc.PayloadRef
	if !filepath.IsAbs(path) && e.baseDir != "" {
		path = filepath.Join(e.baseDir, path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return nil, eris.Wrapf(ErrUnreadable, "extract: %s is not a JSON payload", doc.PayloadRef)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrUnreadable, "extract: payload %s missing", doc.PayloadRef)
		}
		return nil, eris.Wrapf(err, "extract: read %s", doc.PayloadRef)
	}

	var raw model.RawFields
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(ErrUnreadable, "extract: parse %s: %v", doc.PayloadRef, err)
	}
	if raw.Overall == 0 && len(raw.Confidence) == 0 {
		// Structured feeds carry no extraction uncertainty.
		raw.Overall = 1.0
	}
	if raw.DocType == "" {
		raw.DocType = doc.TypeHint
	}
	return &raw, nil
}
