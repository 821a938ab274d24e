// Package filler selects short pre-rendered audio clips to play while the
// real reply is still being generated, masking perceived latency.
package filler

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Clip is an immutable pre-rendered audio snippet.
type Clip struct {
	Name   string
	Format string
	Data   []byte
}

// Candidate clip names by reply emotion tag. Long replies get their own
// set of longer "let me think" clips.
var (
	clipsByTag = map[string][]string{
		"cheerful": {"hum_upbeat", "chuckle_soft", "mmhm_bright"},
		"mellow":   {"hmm_gentle", "soft_breath", "mm_warm"},
		"stern":    {"hmm_flat", "pause_short"},
		"playful":  {"hum_upbeat", "chuckle_soft", "ooh_curious"},
		"anxious":  {"hmm_gentle", "soft_breath"},
		"sleepy":   {"mm_warm", "soft_breath", "yawn_quiet"},
		"neutral":  {"hmm_gentle", "mmhm_bright", "pause_short"},
	}
	longFormClips = []string{"thinking_long", "hold_on_sec", "let_me_think"}
	defaultClips  = clipsByTag["neutral"]
)

// DefaultLongFormThreshold is the expected reply length, in runes, past
// which long-form clips are preferred.
const DefaultLongFormThreshold = 160

// Dispatcher serves clips from a cache preloaded at startup. A clip missing
// from the cache is read from disk lazily as a fallback.
type Dispatcher struct {
	dir       string
	threshold int
	logger    *slog.Logger
	pick      func(n int) int

	mu    sync.RWMutex
	clips map[string]*Clip
}

func NewDispatcher(dir string, threshold int, logger *slog.Logger) *Dispatcher {
	if threshold <= 0 {
		threshold = DefaultLongFormThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		dir:       dir,
		threshold: threshold,
		logger:    logger,
		pick:      rand.Intn,
		clips:     make(map[string]*Clip),
	}
	d.preload()
	return d
}

func (d *Dispatcher) preload() {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.logger.Warn("filler clip dir unavailable", "dir", d.dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		clip, err := d.readClip(entry.Name())
		if err != nil {
			d.logger.Warn("failed to preload filler clip", "file", entry.Name(), "error", err)
			continue
		}
		d.clips[clip.Name] = clip
	}
	d.logger.Info("filler clips preloaded", "dir", d.dir, "count", len(d.clips))
}

func (d *Dispatcher) readClip(filename string) (*Clip, error) {
	ext := filepath.Ext(filename)
	name := strings.TrimSuffix(filename, ext)
	if name == "" {
		return nil, fmt.Errorf("unusable clip filename %q", filename)
	}
	data, err := os.ReadFile(filepath.Join(d.dir, filename))
	if err != nil {
		return nil, err
	}
	format := strings.TrimPrefix(ext, ".")
	if format == "" {
		format = "mp3"
	}
	return &Clip{Name: name, Format: format, Data: data}, nil
}

// Select picks a clip for the given emotion tag and expected reply length.
// Unknown tags fall back to the default candidate set; a long reply prefers
// the long-form set but falls back to the emotion set when none of its clips
// resolve. Only when no candidate resolves at all does it return an error
// and the caller skips filler.
func (d *Dispatcher) Select(emotionTag string, expectedReplyLength int) (*Clip, error) {
	candidates := clipsByTag[strings.ToLower(strings.TrimSpace(emotionTag))]
	if len(candidates) == 0 {
		candidates = defaultClips
	}
	if expectedReplyLength > d.threshold && len(longFormClips) > 0 {
		if clip := d.firstAvailable(longFormClips); clip != nil {
			return clip, nil
		}
	}
	if clip := d.firstAvailable(candidates); clip != nil {
		return clip, nil
	}
	return nil, fmt.Errorf("filler: no clip available for tag %q", emotionTag)
}

// firstAvailable walks the candidates from a random start so one missing
// file does not sink the whole selection.
func (d *Dispatcher) firstAvailable(candidates []string) *Clip {
	start := d.pick(len(candidates))
	for i := 0; i < len(candidates); i++ {
		if clip := d.lookup(candidates[(start+i)%len(candidates)]); clip != nil {
			return clip
		}
	}
	return nil
}

func (d *Dispatcher) lookup(name string) *Clip {
	d.mu.RLock()
	clip := d.clips[name]
	d.mu.RUnlock()
	if clip != nil {
		return clip
	}

	// Lazy fallback for clips that appeared after startup.
	for _, ext := range []string{".mp3", ".wav", ".ogg"} {
		loaded, err := d.readClip(name + ext)
		if err != nil {
			continue
		}
		d.mu.Lock()
		d.clips[name] = loaded
		d.mu.Unlock()
		return loaded
	}
	return nil
}
