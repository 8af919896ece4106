// Package splitter cuts a PDF into page-bounded parts for the recognition model.
package splitter

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrEmptyDocument is returned for inputs without any bytes.
var ErrEmptyDocument = errors.New("empty document")

// Part is one page range of the source document, encoded as a standalone PDF.
type Part struct {
	Name     string
	Data     []byte
	FromPage int
	ThruPage int
}

// Pages returns how many pages the part covers.
func (p Part) Pages() int {
	return p.ThruPage - p.FromPage + 1
}

// Func splits data into ordered parts of at most pagesPerPart pages each.
type Func func(data []byte, pagesPerPart int, prefix string) ([]Part, error)

func init() {
	// pdfcpu would otherwise create a config directory under $HOME on first use.
	api.DisableConfigDir()
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// SplitPDF is the production Func. Parts keep the original page order; the
// last part holds the remainder.
func SplitPDF(data []byte, pagesPerPart int, prefix string) ([]Part, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	if pagesPerPart < 1 {
		return nil, fmt.Errorf("pages per part must be positive, got %d", pagesPerPart)
	}
	if prefix == "" {
		prefix = "part"
	}

	spans, err := api.SplitRaw(bytes.NewReader(data), pagesPerPart, newConfiguration())
	if err != nil {
		return nil, fmt.Errorf("split pdf: %w", err)
	}

	parts := make([]Part, 0, len(spans))
	for _, span := range spans {
		buf, err := io.ReadAll(span.Reader)
		if err != nil {
			return nil, fmt.Errorf("read pages %d-%d: %w", span.From, span.Thru, err)
		}
		parts = append(parts, Part{
			Name:     fmt.Sprintf("%s_%d-%d.pdf", prefix, span.From, span.Thru),
			Data:     buf,
			FromPage: span.From,
			ThruPage: span.Thru,
		})
	}
	return parts, nil
}

// CountPages returns the number of pages in a PDF.
func CountPages(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyDocument
	}
	n, err := api.PageCount(bytes.NewReader(data), newConfiguration())
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}
