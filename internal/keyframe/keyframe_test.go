package keyframe

import (
	"context"
	"math"
	"testing"

	"github.com/ivlev/timeline/internal/timebase"
)

func opacityRamp() *Track {
	return New(
		Key{Time: 0, Value: 0.0, Interp: Linear},
		Key{Time: 1000, Value: 1.0, Interp: Linear},
	)
}

func TestEvaluateLinearClamped(t *testing.T) {
	tr := opacityRamp()

	tests := []struct {
		time timebase.Tick
		want float64
	}{
		{-100, 0.0},
		{0, 0.0},
		{250, 0.25},
		{500, 0.5},
		{1000, 1.0},
		{2000, 1.0},
	}

	for _, tt := range tests {
		got, ok := tr.Evaluate(tt.time)
		if !ok {
			t.Fatalf("Evaluate(%d) reported empty track", tt.time)
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Evaluate(%d) = %f, want %f", tt.time, got, tt.want)
		}
	}
}

func TestEvaluateHold(t *testing.T) {
	tr := New(
		Key{Time: 0, Value: 0.3, Interp: Hold},
		Key{Time: 1000, Value: 0.9, Interp: Linear},
	)
	if v, _ := tr.Evaluate(999); v != 0.3 {
		t.Errorf("hold segment = %f, want 0.3", v)
	}
	if v, _ := tr.Evaluate(1000); v != 0.9 {
		t.Errorf("at right key = %f, want 0.9", v)
	}
}

func TestEvaluateBezier(t *testing.T) {
	tr := New(
		Key{Time: 0, Value: 0, Interp: Bezier, Out: Handle{DT: 250, DV: 0}},
		Key{Time: 1000, Value: 1, Interp: Linear, In: Handle{DT: -250, DV: 0}},
	)

	mid, _ := tr.Evaluate(500)
	if math.Abs(mid-0.5) > 1e-6 {
		t.Errorf("symmetric ease midpoint = %f, want 0.5", mid)
	}

	early, _ := tr.Evaluate(100)
	if early >= 0.1 {
		t.Errorf("ease-in should start slower than linear, got %f", early)
	}

	prev := -1.0
	for ts := timebase.Tick(0); ts <= 1000; ts += 50 {
		v, _ := tr.Evaluate(ts)
		if v < prev {
			t.Fatalf("curve not monotonic at %d: %f < %f", ts, v, prev)
		}
		prev = v
	}
}

func TestEvaluateEmpty(t *testing.T) {
	var tr Track
	if _, ok := tr.Evaluate(10); ok {
		t.Error("empty track should report no value")
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	tr := New(
		Key{Time: 0, Value: 3, Interp: Bezier, Out: Handle{DT: 120, DV: 5}},
		Key{Time: 700, Value: -2, Interp: Hold},
		Key{Time: 900, Value: 8, Interp: Linear},
		Key{Time: 1500, Value: 1},
	)
	for ts := timebase.Tick(-10); ts < 1600; ts += 37 {
		first, _ := tr.Evaluate(ts)
		for i := 0; i < 3; i++ {
			again, _ := tr.Evaluate(ts)
			if math.Float64bits(first) != math.Float64bits(again) {
				t.Fatalf("Evaluate(%d) not bit-identical: %v vs %v", ts, first, again)
			}
		}
	}
}

func TestSetReplacesAndOrders(t *testing.T) {
	tr := New(
		Key{Time: 500, Value: 5},
		Key{Time: 100, Value: 1},
		Key{Time: 300, Value: 3},
	)
	tr.Set(Key{Time: 300, Value: 33})

	if tr.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tr.Len())
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if tr.Keys[1].Value != 33 {
		t.Errorf("key at 300 = %f, want 33", tr.Keys[1].Value)
	}

	if !tr.Remove(100) || tr.Remove(100) {
		t.Error("Remove should succeed once")
	}
}

func TestTrimPreservesCurve(t *testing.T) {
	tr := New(
		Key{Time: 0, Value: 0, Interp: Linear},
		Key{Time: 400, Value: 2, Interp: Bezier, Out: Handle{DT: 100, DV: 1}},
		Key{Time: 1000, Value: 1, Interp: Hold, In: Handle{DT: -200, DV: 0.5}},
		Key{Time: 1400, Value: 4},
	)

	ranges := []timebase.Range{
		{Start: 200, End: 1200},
		{Start: 550, End: 1300}, // starts inside the bezier segment
		{Start: 450, End: 900},  // both ends inside the bezier segment
	}

	for _, r := range ranges {
		t.Run(r.String(), func(t *testing.T) {
			sub := tr.Trim(r)

			if err := sub.Validate(); err != nil {
				t.Fatalf("trimmed track invalid: %v", err)
			}
			if sub.Keys[0].Time != 0 || sub.Keys[len(sub.Keys)-1].Time != r.Len() {
				t.Fatalf("boundary keys missing: %+v", sub.Keys)
			}

			for ts := r.Start; ts <= r.End; ts += 25 {
				want, _ := tr.Evaluate(ts)
				got, _ := sub.Evaluate(ts - r.Start)
				if math.Abs(got-want) > 1e-6 {
					t.Errorf("at %d: trimmed %f, original %f", ts, got, want)
				}
			}
		})
	}

	if tr.Len() != 4 {
		t.Errorf("Trim modified the source track: %d keys", tr.Len())
	}
}

func TestTrimKeepsHandlesPinnedToKeys(t *testing.T) {
	// Both handles point past their own key, so the control points clamp
	// onto the segment ends.
	tr := New(
		Key{Time: 0, Value: 0, Interp: Bezier, Out: Handle{DT: -5, DV: 0.8}},
		Key{Time: 100, Value: 1, In: Handle{DT: 5, DV: -0.8}},
	)

	sub := tr.Trim(timebase.Range{Start: 20, End: 100})
	if dt := sub.Keys[len(sub.Keys)-1].In.DT; dt == 0 {
		t.Fatal("clamped in-handle came back as the default handle")
	}
	for ts := timebase.Tick(20); ts <= 100; ts += 5 {
		want, _ := tr.Evaluate(ts)
		got, _ := sub.Evaluate(ts - 20)
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("at %d: trimmed %f, original %f", ts, got, want)
		}
	}

	// Trimming the trimmed track splits the rewritten handles again
	subsub := sub.Trim(timebase.Range{Start: 10, End: 60})
	for ts := timebase.Tick(30); ts <= 80; ts += 5 {
		want, _ := tr.Evaluate(ts)
		got, _ := subsub.Evaluate(ts - 30)
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("at %d: trimmed twice %f, original %f", ts, got, want)
		}
	}

	head := tr.Trim(timebase.Range{Start: 0, End: 50})
	if dt := head.Keys[0].Out.DT; dt == 0 {
		t.Fatal("clamped out-handle came back as the default handle")
	}
	for ts := timebase.Tick(0); ts <= 50; ts += 5 {
		want, _ := tr.Evaluate(ts)
		got, _ := head.Evaluate(ts)
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("at %d: head %f, original %f", ts, got, want)
		}
	}
}

func TestTrimOutsideKeys(t *testing.T) {
	tr := New(Key{Time: 100, Value: 7}, Key{Time: 200, Value: 9})
	sub := tr.Trim(timebase.Range{Start: 300, End: 500})
	if sub.Len() != 2 {
		t.Fatalf("expected two boundary keys, got %d", sub.Len())
	}
	for _, k := range sub.Keys {
		if k.Value != 9 {
			t.Errorf("boundary value = %f, want 9", k.Value)
		}
	}
}

func TestBatchMatchesScalar(t *testing.T) {
	tracks := []*Track{
		opacityRamp(),
		New(Key{Time: 0, Value: 1, Interp: Hold}, Key{Time: 10, Value: 2}),
		New(
			Key{Time: -50, Value: 0, Interp: Bezier, Out: Handle{DT: 30, DV: 4}},
			Key{Time: 800, Value: 1, In: Handle{DT: -100, DV: -1}},
		),
	}
	origins := []timebase.Tick{0, 300, -120}

	var b Batch
	for i, tr := range tracks {
		b.Add(tr, origins[i])
	}
	out := make([]float64, b.Len())

	for _, global := range []timebase.Tick{-500, 0, 17, 305, 640, 999, 4000} {
		if err := (Sequential{}).Interpolate(context.Background(), &b, global, out); err != nil {
			t.Fatalf("Interpolate: %v", err)
		}
		for i, tr := range tracks {
			want, _ := tr.Evaluate(global - origins[i])
			if math.Float64bits(out[i]) != math.Float64bits(want) {
				t.Errorf("property %d at %d: batch %v, scalar %v", i, global, out[i], want)
			}
		}
	}
}

func TestParseInterp(t *testing.T) {
	tests := []struct {
		in      string
		want    Interp
		wantErr bool
	}{
		{"", Linear, false},
		{"HOLD", Hold, false},
		{"bezier", Bezier, false},
		{"cubic", Linear, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
