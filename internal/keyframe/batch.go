package keyframe

import (
	"context"
	"sort"

	"github.com/ivlev/timeline/internal/timebase"
)

// Batch is the flattened upload format for evaluating many tracks at
// one global time. Property i owns Times/Values[Offsets[i]:Offsets[i]+Counts[i]]
// and is sampled at local time (t - Origins[i]).
type Batch struct {
	Origins []timebase.Tick
	Offsets []int32
	Counts  []int32

	Times  []float64
	Values []float64
	Kinds  []uint8
	OutDT  []float64
	OutDV  []float64
	InDT   []float64
	InDV   []float64
}

// Evaluator runs a batch on some compute backend.
type Evaluator interface {
	Interpolate(ctx context.Context, b *Batch, t timebase.Tick, out []float64) error
}

// Add appends a track and returns its property index.
func (b *Batch) Add(tr *Track, origin timebase.Tick) int {
	idx := len(b.Counts)
	b.Origins = append(b.Origins, origin)
	b.Offsets = append(b.Offsets, int32(len(b.Times)))
	b.Counts = append(b.Counts, int32(tr.Len()))
	if tr == nil {
		return idx
	}
	for _, k := range tr.Keys {
		b.Times = append(b.Times, float64(k.Time))
		b.Values = append(b.Values, k.Value)
		b.Kinds = append(b.Kinds, uint8(k.Interp))
		b.OutDT = append(b.OutDT, k.Out.DT)
		b.OutDV = append(b.OutDV, k.Out.DV)
		b.InDT = append(b.InDT, k.In.DT)
		b.InDV = append(b.InDV, k.In.DV)
	}
	return idx
}

// Len is the number of properties in the batch.
func (b *Batch) Len() int {
	return len(b.Counts)
}

func (b *Batch) Reset() {
	b.Origins = b.Origins[:0]
	b.Offsets = b.Offsets[:0]
	b.Counts = b.Counts[:0]
	b.Times = b.Times[:0]
	b.Values = b.Values[:0]
	b.Kinds = b.Kinds[:0]
	b.OutDT = b.OutDT[:0]
	b.OutDV = b.OutDV[:0]
	b.InDT = b.InDT[:0]
	b.InDV = b.InDV[:0]
}

// EvalAt is the kernel body: it evaluates property i at global time t.
// An empty property evaluates to zero.
func (b *Batch) EvalAt(i int, t timebase.Tick) float64 {
	n := int(b.Counts[i])
	if n == 0 {
		return 0
	}
	off := int(b.Offsets[i])
	times := b.Times[off : off+n]
	local := float64(t - b.Origins[i])

	if local <= times[0] {
		return b.Values[off]
	}
	if local >= times[n-1] {
		return b.Values[off+n-1]
	}
	j := sort.Search(n, func(j int) bool { return times[j] > local }) - 1
	a, c := off+j, off+j+1
	return segment(Interp(b.Kinds[a]),
		b.Times[a], b.Values[a], b.Times[c], b.Values[c],
		b.OutDT[a], b.OutDV[a], b.InDT[c], b.InDV[c],
		local)
}

// Sequential evaluates a batch on the calling goroutine.
type Sequential struct{}

func (Sequential) Interpolate(ctx context.Context, b *Batch, t timebase.Tick, out []float64) error {
	for i := 0; i < b.Len(); i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		out[i] = b.EvalAt(i, t)
	}
	return nil
}
