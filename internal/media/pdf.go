package media

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/timebase"
)

// PDFDecoder shows one page per PageTicks, holding the last page.
type PDFDecoder struct {
	PageTicks timebase.Tick
	DPI       int

	mu    sync.Mutex
	pages map[string]int
}

func NewPDFDecoder(pageTicks timebase.Tick, dpi int) *PDFDecoder {
	if dpi <= 0 {
		dpi = 150
	}
	return &PDFDecoder{PageTicks: pageTicks, DPI: dpi}
}

// PageCount opens the document once and remembers its length.
func (d *PDFDecoder) PageCount(path string) (int, error) {
	d.mu.Lock()
	n, ok := d.pages[path]
	d.mu.Unlock()
	if ok {
		return n, nil
	}

	doc, err := fitz.New(path)
	if err != nil {
		return 0, err
	}
	n = doc.NumPage()
	doc.Close()

	d.mu.Lock()
	if d.pages == nil {
		d.pages = make(map[string]int)
	}
	d.pages[path] = n
	d.mu.Unlock()
	return n, nil
}

func (d *PDFDecoder) DecodeFrame(ctx context.Context, ref project.MediaRef, local timebase.Tick) (image.Image, error) {
	n, err := d.PageCount(ref.Path)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%s has no pages", ref.Path)
	}
	page := 0
	if d.PageTicks > 0 && local > 0 {
		page = min(int(local/d.PageTicks), n-1)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Документ fitz не потокобезопасен, каждый воркер открывает свой.
	workerDoc, err := fitz.New(ref.Path)
	if err != nil {
		return nil, err
	}
	defer workerDoc.Close()
	return workerDoc.ImageDPI(page, float64(d.DPI))
}
