package config

import "time"

type Config struct {
	DiscordToken string `validate:"required"`
	DataDir      string `default:"./data" validate:"required"`

	// QueueLimit is the default per-guild cap on waiting tracks; 0 disables it.
	QueueLimit          int           `default:"20" validate:"gte=0"`
	VoiceConnectTimeout time.Duration `default:"20s" validate:"gt=0"`

	// PipeFromYtdlp selects the yt-dlp | ffmpeg pipeline. When false, ffmpeg
	// reads the direct audio URL found during resolution.
	PipeFromYtdlp bool   `default:"true"`
	AudioBitrate  string `default:"96k" validate:"required"`
	FFmpegPath    string `default:"ffmpeg" validate:"required"`
	ProbeCodecs   bool

	YtdlpFormat   string `default:"bestaudio[acodec=opus]/bestaudio/best" validate:"required"`
	YtdlpCookies  string
	CookieRefresh CookieRefresh

	SpotifyClientID     string
	SpotifyClientSecret string

	RegisterCommandsOnBot bool
	LogLevel              string `default:"info" validate:"oneof=debug info warn warning error"`
}

type CookieRefresh struct {
	Enabled  bool          `default:"true"`
	Interval time.Duration `default:"6h"`
	URL      string        `default:"https://www.youtube.com/watch?v=BaW_jenozKc" validate:"url"`
}

func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

// CookieRefreshActive reports whether the cookie refresher should run.
func (c *Config) CookieRefreshActive() bool {
	return c.CookieRefresh.Enabled && c.YtdlpCookies != ""
}
