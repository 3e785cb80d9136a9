package media

import "github.com/dkeye/Avatar/internal/domain"

// pair accumulates subscribed tracks until both kinds are present.
// ready latches: it never goes back to false for the lifetime of the pair.
type pair struct {
	tracks []domain.Track
	ready  bool
}

// add stores t and reports whether this call completed the pair.
func (p *pair) add(t domain.Track) bool {
	for _, have := range p.tracks {
		if have.ID() == t.ID() && have.Kind() == t.Kind() {
			return false
		}
	}
	p.tracks = append(p.tracks, t)
	if p.ready || !p.complete() {
		return false
	}
	p.ready = true
	return true
}

func (p *pair) remove(t domain.Track) {
	for i, have := range p.tracks {
		if have.ID() == t.ID() && have.Kind() == t.Kind() {
			p.tracks = append(p.tracks[:i:i], p.tracks[i+1:]...)
			return
		}
	}
}

func (p *pair) complete() bool {
	var audio, video bool
	for _, t := range p.tracks {
		switch t.Kind() {
		case domain.TrackKindAudio:
			audio = true
		case domain.TrackKindVideo:
			video = true
		}
	}
	return audio && video
}

func (p *pair) stream() domain.MediaStream {
	out := make([]domain.Track, len(p.tracks))
	copy(out, p.tracks)
	return domain.MediaStream{Tracks: out}
}
