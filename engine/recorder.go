package engine

import (
	"encoding/json"
	"io"
	"sync"
)

// Recorder is a publication sink that writes every tick frame to a
// stream as JSON lines, so a race can be replayed after the fact.
type Recorder struct {
	mu     sync.Mutex
	writer *json.Encoder
}

// NewRecorder creates a recorder writing JSON lines to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{writer: json.NewEncoder(w)}
}

// Publish records one tick frame. Encode errors are swallowed so a full
// disk never stalls the tick path.
func (r *Recorder) Publish(pub *Publication) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.writer.Encode(pub)
}

// Player steps through recorded tick frames in order.
type Player struct {
	mu     sync.Mutex
	frames []Publication
	idx    int
}

// NewPlayer loads all frames from a recording (JSON lines). A torn or
// malformed frame ends the recording at that point; frames before it
// are kept.
func NewPlayer(r io.Reader) (*Player, error) {
	dec := json.NewDecoder(r)
	var frames []Publication
	for {
		var frame Publication
		if err := dec.Decode(&frame); err != nil {
			break
		}
		frames = append(frames, frame)
	}
	return &Player{frames: frames}, nil
}

// Next returns the next frame, or false after the last one.
func (p *Player) Next() (*Publication, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx >= len(p.frames) {
		return nil, false
	}
	f := &p.frames[p.idx]
	p.idx++
	return f, true
}

// Len returns the number of frames loaded.
func (p *Player) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Seek positions the player at frame i, clamped to the valid range.
func (p *Player) Seek(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 {
		i = 0
	}
	if i > len(p.frames) {
		i = len(p.frames)
	}
	p.idx = i
}
