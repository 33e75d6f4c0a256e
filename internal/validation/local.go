package validation

import (
	"context"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

// Local validates documents in-process against a fixed catalogue.
type Local struct {
	Catalogue catalogue.Catalogue
}

func (l Local) Validate(ctx context.Context, doc *fable.Builder) (*Expansion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exp := Expand(l.Catalogue, doc)
	return &exp, nil
}
