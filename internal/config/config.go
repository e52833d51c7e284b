package config

import (
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const minCookieRefreshInterval = 5 * time.Minute

func getenv(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

// envReader applies environment overrides and keeps the first parse error.
type envReader struct {
	err error
}

func (r *envReader) fail(key, val string, err error) {
	if r.err == nil {
		r.err = errors.Wrapf(err, "invalid %s=%q", key, val)
	}
}

func (r *envReader) setString(key string, dst *string) {
	*dst = getenv(key, *dst)
}

func (r *envReader) setBool(key string, dst *bool) {
	val := getenv(key, "")
	if val == "" {
		return
	}
	v, err := strconv.ParseBool(val)
	if err != nil {
		r.fail(key, val, err)
		return
	}
	*dst = v
}

// setToggle accepts true/false, 1/0 and yes/no. Anything else leaves dst
// untouched.
func (r *envReader) setToggle(key string, dst *bool) {
	switch strings.ToLower(getenv(key, "")) {
	case "true", "1", "yes":
		*dst = true
	case "false", "0", "no":
		*dst = false
	}
}

func (r *envReader) setInt(key string, dst *int) {
	val := getenv(key, "")
	if val == "" {
		return
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		r.fail(key, val, err)
		return
	}
	*dst = v
}

// setDuration accepts Go durations ("20s") or a bare number of unit.
func (r *envReader) setDuration(key string, unit time.Duration, dst *time.Duration) {
	val := getenv(key, "")
	if val == "" {
		return
	}
	if n, err := strconv.Atoi(val); err == nil {
		*dst = time.Duration(n) * unit
		return
	}
	v, err := time.ParseDuration(val)
	if err != nil {
		r.fail(key, val, err)
		return
	}
	*dst = v
}

// setPositiveDuration is setDuration where zero or less means unset.
func (r *envReader) setPositiveDuration(key string, unit time.Duration, dst *time.Duration) {
	v := *dst
	r.setDuration(key, unit, &v)
	if v > 0 {
		*dst = v
	}
}

// LoadConfig reads envFile when it exists, then the process environment.
// Variables already set in the environment win over the file.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "load %s", envFile)
		}
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	var r envReader
	r.setString("DISCORD_TOKEN", &cfg.DiscordToken)
	r.setString("DATA_DIR", &cfg.DataDir)
	r.setInt("QUEUE_LIMIT", &cfg.QueueLimit)
	r.setDuration("VOICE_CONNECT_TIMEOUT", time.Second, &cfg.VoiceConnectTimeout)
	r.setBool("PIPE_FROM_YTDLP", &cfg.PipeFromYtdlp)
	r.setString("AUDIO_BITRATE", &cfg.AudioBitrate)
	r.setString("FFMPEG_PATH", &cfg.FFmpegPath)
	r.setBool("PROBE_CODECS", &cfg.ProbeCodecs)
	r.setString("YTDLP_FORMAT", &cfg.YtdlpFormat)
	r.setString("YTDLP_COOKIES", &cfg.YtdlpCookies)
	r.setToggle("YTDLP_COOKIE_REFRESH_ENABLED", &cfg.CookieRefresh.Enabled)
	r.setPositiveDuration("YTDLP_COOKIE_REFRESH_INTERVAL_MINUTES", time.Minute, &cfg.CookieRefresh.Interval)
	r.setString("YTDLP_COOKIE_REFRESH_URL", &cfg.CookieRefresh.URL)
	r.setString("SPOTIFY_CLIENT_ID", &cfg.SpotifyClientID)
	r.setString("SPOTIFY_CLIENT_SECRET", &cfg.SpotifyClientSecret)
	r.setBool("REGISTER_COMMANDS_ON_BOT", &cfg.RegisterCommandsOnBot)
	r.setString("LOG_LEVEL", &cfg.LogLevel)
	if r.err != nil {
		return nil, r.err
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.CookieRefresh.Interval < minCookieRefreshInterval {
		cfg.CookieRefresh.Interval = minCookieRefreshInterval
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return cfg, nil
}
