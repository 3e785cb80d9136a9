package domain

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Track is a subscribed inbound media track.
type Track interface {
	ID() string
	Kind() TrackKind
}

// MediaStream is the merged output handed to the application once
// both an audio and a video track are present.
type MediaStream struct {
	Tracks []Track
}

func (m MediaStream) Audio() []Track { return m.byKind(TrackKindAudio) }
func (m MediaStream) Video() []Track { return m.byKind(TrackKindVideo) }

func (m MediaStream) byKind(kind TrackKind) []Track {
	var out []Track
	for _, t := range m.Tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}
