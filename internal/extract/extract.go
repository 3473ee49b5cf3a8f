// Package extract turns a raw document payload into candidate field values.
// Extraction is a black box to the rest of the pipeline: adapters produce
// model.RawFields with per-field confidences and the validator takes it
// from there.
package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/resilience"
)

// ErrUnreadable means the payload cannot be extracted at all — corrupt
// file, unsupported format. Retrying the same payload will not help.
var ErrUnreadable = resilience.Terminal(eris.New("extract: payload unreadable"))

// Extractor produces raw field candidates from a document payload.
type Extractor interface {
	Extract(ctx context.Context, doc model.Document) (*model.RawFields, error)
}
