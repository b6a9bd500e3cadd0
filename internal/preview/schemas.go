package preview

import (
	"github.com/ivlev/timeline/internal/engine"
	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/timebase"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	UptimeS  int64  `json:"uptime_s"`
	Degraded bool   `json:"degraded"`
}

type CompositionResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	DurationS float64  `json:"duration_s"`
	Tracks    int      `json:"tracks"`
	Nested    []string `json:"nested,omitempty"`
}

type CompositionsResponse struct {
	Compositions []CompositionResponse `json:"compositions"`
}

type LayerResponse struct {
	Clip        project.ClipID     `json:"clip"`
	Track       project.TrackID    `json:"track"`
	Composition string             `json:"composition"`
	Depth       int                `json:"depth"`
	Media       string             `json:"media"`
	TimeS       float64            `json:"time_s"`
	Opacity     float64            `json:"opacity"`
	Gain        float64            `json:"gain"`
	Pan         float64            `json:"pan"`
	Blend       string             `json:"blend"`
	Props       map[string]float64 `json:"props,omitempty"`
}

type ResolveResponse struct {
	Composition string          `json:"composition"`
	TimeS       float64         `json:"time_s"`
	Layers      []LayerResponse `json:"layers"`
}

func LayerToResponse(l project.Layer, rate int64) LayerResponse {
	resp := LayerResponse{
		Clip:        l.Clip,
		Track:       l.Track,
		Composition: l.Composition.String(),
		Depth:       l.Depth,
		Media:       l.Media.String(),
		TimeS:       timebase.Seconds(l.Time, rate),
		Opacity:     l.Opacity,
		Gain:        l.Gain,
		Pan:         l.Pan,
		Blend:       l.Blend.String(),
	}
	if len(l.Props) > 0 {
		resp.Props = make(map[string]float64, len(l.Props))
		for k, v := range l.Props {
			resp.Props[string(k)] = v
		}
	}
	return resp
}

type ClipResponse struct {
	ID        project.ClipID  `json:"id"`
	Track     project.TrackID `json:"track"`
	Media     string          `json:"media"`
	StartS    float64         `json:"start_s"`
	DurationS float64         `json:"duration_s"`
	SourceInS float64         `json:"source_in_s"`
	Muted     bool            `json:"muted,omitempty"`
	Overlaps  int             `json:"overlaps,omitempty"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

type CursorRequest struct {
	Composition string  `json:"composition"`
	TimeS       float64 `json:"time_s"`
}

type CursorResponse struct {
	Composition string  `json:"composition"`
	TimeS       float64 `json:"time_s"`
	Tier        string  `json:"tier"`
}

type TierRequest struct {
	Tier string  `json:"tier"`
	Zoom float64 `json:"zoom,omitempty"`
}

type PendingResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

type MoveClipRequest struct {
	StartS float64 `json:"start_s"`
}

type SplitClipRequest struct {
	AtS float64 `json:"at_s"`
}

type SplitClipResponse struct {
	Left  project.ClipID `json:"left"`
	Right project.ClipID `json:"right"`
}

type FadeRequest struct {
	LengthS float64 `json:"length_s"`
	Curve   string  `json:"curve,omitempty"`
}

// UpdateClipRequest changes only the fields that are set.
type UpdateClipRequest struct {
	Muted   *bool        `json:"muted,omitempty"`
	Blend   *string      `json:"blend,omitempty"`
	FadeIn  *FadeRequest `json:"fade_in,omitempty"`
	FadeOut *FadeRequest `json:"fade_out,omitempty"`
}

// KeyRequest sets a key at a clip-local time.
type KeyRequest struct {
	AtS    float64 `json:"at_s"`
	Value  float64 `json:"value"`
	Interp string  `json:"interp,omitempty"`
}

type StatsResponse struct {
	Cache  CacheStats  `json:"cache"`
	Render RenderStats `json:"render"`
}

type CacheStats struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	Budget    int64 `json:"budget"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Rejected  int64 `json:"rejected"`
}

type RenderStats struct {
	Requests  int64 `json:"requests"`
	Hits      int64 `json:"hits"`
	Coalesced int64 `json:"coalesced"`
	Rendered  int64 `json:"rendered"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Degraded  bool  `json:"degraded"`
}

func StatsToResponse(s engine.Stats) StatsResponse {
	return StatsResponse{
		Cache: CacheStats{
			Entries:   s.Cache.Entries,
			Bytes:     s.Cache.Bytes,
			Budget:    s.Cache.Budget,
			Hits:      s.Cache.Hits,
			Misses:    s.Cache.Misses,
			Evictions: s.Cache.Evictions,
			Rejected:  s.Cache.Rejected,
		},
		Render: RenderStats{
			Requests:  s.Render.Requests,
			Hits:      s.Render.Hits,
			Coalesced: s.Render.Coalesced,
			Rendered:  s.Render.Rendered,
			Failed:    s.Render.Failed,
			Skipped:   s.Render.Skipped,
			Degraded:  s.Render.Degraded,
		},
	}
}
