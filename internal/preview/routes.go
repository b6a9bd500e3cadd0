package preview

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ivlev/timeline/internal/engine"
	"github.com/ivlev/timeline/internal/keyframe"
	"github.com/ivlev/timeline/internal/project"
	"github.com/ivlev/timeline/internal/quality"
	"github.com/ivlev/timeline/internal/render"
	"github.com/ivlev/timeline/internal/timebase"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 10 * time.Second
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Get("/compositions", listCompositionsHandler(cfg))
	r.Get("/compositions/{id}/resolve", resolveHandler(cfg))
	r.Get("/compositions/{id}/frame", frameHandler(cfg))
	r.Get("/compositions/{id}/clips", listClipsHandler(cfg))
	r.Get("/cursor", getCursorHandler(cfg))
	r.Put("/cursor", setCursorHandler(cfg))
	r.Put("/quality", setQualityHandler(cfg))
	r.Get("/cache/stats", statsHandler(cfg))

	r.Delete("/tracks/{track}", removeTrackHandler(cfg))
	r.Route("/clips/{clip}", func(r chi.Router) {
		r.Post("/move", moveClipHandler(cfg))
		r.Post("/split", splitClipHandler(cfg))
		r.Delete("/", removeClipHandler(cfg))
		r.Patch("/", updateClipHandler(cfg))
		r.Put("/keys/{prop}", setKeyHandler(cfg))
		r.Delete("/keys/{prop}", removeKeyHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var degraded bool
		cfg.Session.Do(func(e *engine.Engine) error {
			degraded = e.Degraded()
			return nil
		})
		status := "ok"
		if degraded {
			status = "degraded"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   status,
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			Degraded: degraded,
		})
	}
}

func listCompositionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := CompositionsResponse{Compositions: []CompositionResponse{}}
		err := cfg.Session.Do(func(e *engine.Engine) error {
			p := e.Project()
			for _, id := range p.Compositions() {
				c, err := p.Composition(id)
				if err != nil {
					return err
				}
				cr := CompositionResponse{
					ID:        id.String(),
					Name:      c.Name,
					DurationS: timebase.Seconds(c.Duration(), cfg.Session.rate),
					Tracks:    len(c.VideoTracks) + len(c.AudioTracks),
				}
				for _, n := range c.Nested() {
					cr.Nested = append(cr.Nested, n.String())
				}
				resp.Compositions = append(resp.Compositions, cr)
			}
			return nil
		})
		if err != nil {
			writeModelError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func resolveHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, at, ok := compositionAt(w, r, cfg.Session.rate)
		if !ok {
			return
		}
		batch := r.URL.Query().Get("batch") == "1"

		var layers []project.Layer
		err := cfg.Session.Do(func(e *engine.Engine) error {
			var err error
			if batch {
				layers, err = e.ResolveBatch(r.Context(), id, at)
			} else {
				layers, err = e.Resolve(id, at)
			}
			return err
		})
		if err != nil {
			writeModelError(w, err)
			return
		}

		resp := ResolveResponse{
			Composition: id.String(),
			TimeS:       timebase.Seconds(at, cfg.Session.rate),
			Layers:      make([]LayerResponse, len(layers)),
		}
		for i, l := range layers {
			resp.Layers[i] = LayerToResponse(l, cfg.Session.rate)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// frameHandler answers 200 with a PNG once the frame is ready and 202
// while it renders. The render keeps going after a 202, so polling the
// same URL picks up the cached frame.
func frameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, at, ok := compositionAt(w, r, cfg.Session.rate)
		if !ok {
			return
		}
		q := r.URL.Query()
		var wait time.Duration
		if s := q.Get("wait"); s != "" {
			ms, err := strconv.Atoi(s)
			if err != nil || ms < 0 {
				WriteError(w, http.StatusBadRequest, "wait must be milliseconds", "BAD_REQUEST")
				return
			}
			wait = min(time.Duration(ms)*time.Millisecond, cfg.MaxWait)
		}

		var h *render.Handle
		cfg.Session.Do(func(e *engine.Engine) error {
			tier := e.Tier()
			if s := q.Get("quality"); s != "" {
				t, err := quality.ParseTier(s)
				if err != nil {
					return err
				}
				tier = t
			}
			h = e.GetFrame(id, at, tier)
			return nil
		})
		if h == nil {
			WriteError(w, http.StatusBadRequest, "unknown quality tier", "BAD_REQUEST")
			return
		}

		if !h.Ready() && wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-h.Done():
			case <-timer.C:
			case <-r.Context().Done():
			}
			timer.Stop()
		}
		if !h.Ready() {
			WriteJSON(w, http.StatusAccepted, PendingResponse{Status: "pending", Key: h.Key.String()})
			return
		}

		frame, ok := h.Frame()
		if !ok {
			err := h.Err()
			if errors.Is(err, render.ErrCancelled) {
				WriteJSON(w, http.StatusAccepted, PendingResponse{Status: "superseded", Key: h.Key.String()})
				return
			}
			writeModelError(w, err)
			return
		}
		defer h.Release()

		w.Header().Set("Content-Type", "image/png")
		if frame.Placeholder {
			w.Header().Set("X-Frame-Placeholder", "1")
		}
		w.WriteHeader(http.StatusOK)
		if err := png.Encode(w, frame.Image); err != nil {
			cfg.Logger.Error("frame encode failed", "key", h.Key.String(), "error", err)
		}
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid composition id", "BAD_REQUEST")
			return
		}
		rate := cfg.Session.rate
		q := r.URL.Query()
		from, err := seconds(q.Get("from"), 0, rate)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid from", "BAD_REQUEST")
			return
		}

		resp := ClipsResponse{Clips: []ClipResponse{}}
		err = cfg.Session.Do(func(e *engine.Engine) error {
			p := e.Project()
			end, err := p.Duration(id)
			if err != nil {
				return err
			}
			to, err := seconds(q.Get("to"), end, rate)
			if err != nil {
				return errBadRange
			}
			ids, err := p.ClipsInRange(id, timebase.Range{Start: from, End: to})
			if err != nil {
				return err
			}
			for _, cid := range ids {
				c, err := p.Clip(cid)
				if err != nil {
					return err
				}
				track, _ := p.ClipTrack(cid)
				overlaps, _ := p.Overlaps(cid)
				resp.Clips = append(resp.Clips, ClipResponse{
					ID:        cid,
					Track:     track,
					Media:     c.Media.String(),
					StartS:    timebase.Seconds(c.Start, rate),
					DurationS: timebase.Seconds(c.Duration, rate),
					SourceInS: timebase.Seconds(c.SourceIn, rate),
					Muted:     c.Muted,
					Overlaps:  len(overlaps),
				})
			}
			return nil
		})
		if err != nil {
			writeModelError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getCursorHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp CursorResponse
		cfg.Session.Do(func(e *engine.Engine) error {
			id, at := e.Cursor()
			resp = CursorResponse{Composition: id.String(), TimeS: timebase.Seconds(at, cfg.Session.rate), Tier: e.Tier().String()}
			return nil
		})
		WriteJSON(w, http.StatusOK, resp)
	}
}

func setCursorHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CursorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		id, err := uuid.Parse(req.Composition)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid composition id", "BAD_REQUEST")
			return
		}
		at := timebase.FromSeconds(req.TimeS, cfg.Session.rate)

		var h *render.Handle
		err = cfg.Session.Do(func(e *engine.Engine) error {
			if _, err := e.Project().Composition(id); err != nil {
				return err
			}
			h = e.SetCursor(id, at)
			return nil
		})
		if err != nil {
			writeModelError(w, err)
			return
		}
		// the frame stays cached for the next frame request
		h.Release()
		WriteJSON(w, http.StatusAccepted, CursorResponse{Composition: id.String(), TimeS: req.TimeS})
	}
}

func setQualityHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TierRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		tier, err := quality.ParseTier(req.Tier)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		cfg.Session.Do(func(e *engine.Engine) error {
			e.SetTier(tier)
			if req.Zoom > 0 {
				e.SetZoom(req.Zoom)
			}
			return nil
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

func statsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var s engine.Stats
		cfg.Session.Do(func(e *engine.Engine) error {
			s = e.Stats()
			return nil
		})
		WriteJSON(w, http.StatusOK, StatsToResponse(s))
	}
}

func moveClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipParam(w, r)
		if !ok {
			return
		}
		var req MoveClipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		err := cfg.Session.Do(func(e *engine.Engine) error {
			return e.Project().MoveClip(id, timebase.FromSeconds(req.StartS, cfg.Session.rate))
		})
		if err != nil {
			writeModelError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func splitClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipParam(w, r)
		if !ok {
			return
		}
		var req SplitClipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		var right project.ClipID
		err := cfg.Session.Do(func(e *engine.Engine) error {
			var err error
			right, err = e.Project().SplitClip(id, timebase.FromSeconds(req.AtS, cfg.Session.rate))
			return err
		})
		if err != nil {
			writeModelError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, SplitClipResponse{Left: id, Right: right})
	}
}

func removeClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipParam(w, r)
		if !ok {
			return
		}
		err := cfg.Session.Do(func(e *engine.Engine) error {
			return e.Project().RemoveClip(id)
		})
		if err != nil {
			writeModelError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func removeTrackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := strconv.ParseUint(chi.URLParam(r, "track"), 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid track id", "BAD_REQUEST")
			return
		}
		err = cfg.Session.Do(func(e *engine.Engine) error {
			return e.Project().RemoveTrack(project.TrackID(v))
		})
		if err != nil {
			writeModelError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func updateClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipParam(w, r)
		if !ok {
			return
		}
		var req UpdateClipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		rate := cfg.Session.rate
		err := cfg.Session.Do(func(e *engine.Engine) error {
			p := e.Project()
			if req.Blend != nil {
				mode, err := project.ParseBlendMode(*req.Blend)
				if err != nil {
					return fmt.Errorf("%w: %v", errBadRequest, err)
				}
				if err := p.SetBlend(id, mode); err != nil {
					return err
				}
			}
			if req.FadeIn != nil || req.FadeOut != nil {
				c, err := p.Clip(id)
				if err != nil {
					return err
				}
				in, out := c.FadeIn, c.FadeOut
				if in, err = fadeFrom(req.FadeIn, in, rate); err != nil {
					return err
				}
				if out, err = fadeFrom(req.FadeOut, out, rate); err != nil {
					return err
				}
				if err := p.SetFade(id, in, out); err != nil {
					return err
				}
			}
			if req.Muted != nil {
				return p.SetClipMuted(id, *req.Muted)
			}
			return nil
		})
		if err != nil {
			writeModelError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func fadeFrom(req *FadeRequest, cur project.Fade, rate int64) (project.Fade, error) {
	if req == nil {
		return cur, nil
	}
	curve, err := project.ParseFadeCurve(req.Curve)
	if err != nil {
		return cur, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return project.Fade{Length: timebase.FromSeconds(req.LengthS, rate), Curve: curve}, nil
}

func setKeyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipParam(w, r)
		if !ok {
			return
		}
		var req KeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		interp, err := keyframe.ParseInterp(req.Interp)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		k := keyframe.Key{Time: timebase.FromSeconds(req.AtS, cfg.Session.rate), Value: req.Value, Interp: interp}
		prop := project.Property(chi.URLParam(r, "prop"))
		err = cfg.Session.Do(func(e *engine.Engine) error {
			return e.Project().SetKeyframe(id, prop, k)
		})
		if err != nil {
			writeModelError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func removeKeyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipParam(w, r)
		if !ok {
			return
		}
		at, err := seconds(r.URL.Query().Get("t"), 0, cfg.Session.rate)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "t must be seconds", "BAD_REQUEST")
			return
		}
		prop := project.Property(chi.URLParam(r, "prop"))
		err = cfg.Session.Do(func(e *engine.Engine) error {
			return e.Project().RemoveKeyframe(id, prop, at)
		})
		if err != nil {
			writeModelError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

var (
	errBadRange   = errors.New("invalid range")
	errBadRequest = errors.New("bad request")
)

func compositionAt(w http.ResponseWriter, r *http.Request, rate int64) (project.CompositionID, timebase.Tick, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid composition id", "BAD_REQUEST")
		return id, 0, false
	}
	at, err := seconds(r.URL.Query().Get("t"), 0, rate)
	if err != nil || at < 0 {
		WriteError(w, http.StatusBadRequest, "t must be non-negative seconds", "BAD_REQUEST")
		return id, 0, false
	}
	return id, at, true
}

func clipParam(w http.ResponseWriter, r *http.Request) (project.ClipID, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, "clip"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid clip id", "BAD_REQUEST")
		return 0, false
	}
	return project.ClipID(v), true
}

func seconds(s string, def timebase.Tick, rate int64) (timebase.Tick, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return timebase.FromSeconds(v, rate), nil
}

// writeModelError maps edit and lookup errors onto status codes.
func writeModelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, project.ErrClipNotFound),
		errors.Is(err, project.ErrTrackNotFound),
		errors.Is(err, project.ErrCompositionNotFound),
		errors.Is(err, project.ErrKeyNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, project.ErrTrackLocked),
		errors.Is(err, project.ErrCyclicComposition),
		errors.Is(err, project.ErrCompositionInUse):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, project.ErrInvalidDuration),
		errors.Is(err, project.ErrInvalidPosition),
		errors.Is(err, project.ErrInvalidSplit),
		errors.Is(err, project.ErrTypeMismatch),
		errors.Is(err, errBadRange),
		errors.Is(err, errBadRequest):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, render.ErrQueueFull):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "BUSY")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
