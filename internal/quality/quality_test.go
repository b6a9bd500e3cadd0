package quality

import (
	"image"
	"image/color"
	"testing"
)

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		tier   Tier
		zoom   float64
		filter Filter
		mips   int
		update TileUpdate
	}{
		{High, 0.5, Bicubic, 2, Full},
		{Medium, 0.25, Bilinear, 3, Full},
		{Low, 0.3, Nearest, 2, Full},
		{High, 0.001, Bicubic, 8, Full},
		{High, 1, Bilinear, 1, Full},
		{Medium, 2, Bilinear, 1, Partial},
		{Low, 4, Nearest, 1, Full},
		{High, 0, Bilinear, 1, Full},
	}
	for _, tt := range tests {
		p := PolicyFor(tt.tier, tt.zoom)
		if p.Filter != tt.filter || p.MipLevels != tt.mips || p.Update != tt.update {
			t.Errorf("PolicyFor(%s, %v) = %+v, want %s/%d/%s", tt.tier, tt.zoom, p, tt.filter, tt.mips, tt.update)
		}
	}
}

func TestManagerTier(t *testing.T) {
	m := NewManager(Medium)
	if m.Policy(0.5).Filter != Bilinear {
		t.Errorf("medium policy filter = %s", m.Policy(0.5).Filter)
	}
	m.SetTier(High)
	if m.Tier() != High || m.Policy(0.5).Filter != Bicubic {
		t.Errorf("after SetTier(High): %s %s", m.Tier(), m.Policy(0.5).Filter)
	}
}

func TestParseTier(t *testing.T) {
	for in, want := range map[string]Tier{"low": Low, "Proxy": Low, "medium": Medium, "": High, "full": High} {
		got, err := ParseTier(in)
		if err != nil || got != want {
			t.Errorf("ParseTier(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseTier("ultra"); err == nil {
		t.Error("ParseTier(ultra) succeeded")
	}
	if w, h := Low.Size(1920, 1080); w != 480 || h != 270 {
		t.Errorf("Low.Size = %dx%d", w, h)
	}
}

func TestScaleSolidColor(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 256, 128))
	fill := color.RGBA{200, 100, 50, 255}
	for i := 0; i < len(src.Pix); i += 4 {
		copy(src.Pix[i:], []uint8{fill.R, fill.G, fill.B, fill.A})
	}
	for _, zoom := range []float64{0.125, 0.5, 1} {
		p := PolicyFor(High, zoom)
		w, h := int(256*zoom), int(128*zoom)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		Scale(dst, dst.Bounds(), src, p)
		got := dst.RGBAAt(w/2, h/2)
		if !near(got.R, fill.R) || !near(got.G, fill.G) || !near(got.B, fill.B) || !near(got.A, fill.A) {
			t.Errorf("zoom %v: center = %v, want %v", zoom, got, fill)
		}
	}
}

func near(a, b uint8) bool {
	return int(a)-int(b) <= 1 && int(b)-int(a) <= 1
}
