package ingest

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor extracts per-page text with ledongthuc/pdf. Pages that cannot
// be decoded are skipped; the rest of the document is still usable.
type PDFExtractor struct{}

func (PDFExtractor) Extract(path string) (pages []PageText, err error) {
	// The pdf package panics on some malformed documents; a broken PDF must
	// only cost us that one file, not the whole run.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("parsing %s: %v", path, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	for num := 1; num <= reader.NumPage(); num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, PageText{Page: num, Text: text})
	}

	return pages, nil
}
