package music

// TrackInfo describes one resolved, playable item. Empty strings mean the
// field is absent. Values are copied, never shared.
type TrackInfo struct {
	Title          string
	CanonicalURL   string
	ThumbnailURL   string
	RequestedBy    string
	DirectAudioURL string
	AudioCodec     string
}

// HasDirectAudio reports whether the track carries a direct audio URL that
// can be streamed without the downloader leg.
func (t TrackInfo) HasDirectAudio() bool {
	return t.DirectAudioURL != ""
}

func (t TrackInfo) String() string {
	if t.Title == "" {
		return t.CanonicalURL
	}
	return t.Title
}
