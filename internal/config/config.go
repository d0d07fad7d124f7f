package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode   string       `mapstructure:"mode"`
	Log    LogConfig    `mapstructure:"log"`
	Relay  RelayConfig  `mapstructure:"relay"`
	Agent  AgentConfig  `mapstructure:"agent"`
	Call   CallConfig   `mapstructure:"call"`
	VAD    VADConfig    `mapstructure:"vad"`
	Frames FramesConfig `mapstructure:"frames"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// RelayConfig configures `speakcall relay`.
type RelayConfig struct {
	Port        int           `mapstructure:"port"`
	StaticPath  string        `mapstructure:"static_path"`
	Secret      string        `mapstructure:"secret"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	FrameLimit  int           `mapstructure:"frame_limit"`
	FrameWindow time.Duration `mapstructure:"frame_window"`
	TTSURL      string        `mapstructure:"tts_url"`
	SignURL     string        `mapstructure:"sign_url"`
	Backend     BackendConfig `mapstructure:"backend"`
}

type BackendConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    uint64        `mapstructure:"max_retries"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
}

// AgentConfig configures `speakcall agent`.
type AgentConfig struct {
	Port     int          `mapstructure:"port"`
	RelayURL string       `mapstructure:"relay_url"`
	User     UserConfig   `mapstructure:"user"`
	STT      STTConfig    `mapstructure:"stt"`
	Media    MediaConfig  `mapstructure:"media"`
	Player   PlayerConfig `mapstructure:"player"`
	ICE      ICEConfig    `mapstructure:"ice"`
}

type UserConfig struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	CanHear   bool   `mapstructure:"can_hear"`
	CanSpeak  bool   `mapstructure:"can_speak"`
	SignRelay bool   `mapstructure:"sign_relay"`
}

type STTConfig struct {
	URL     string        `mapstructure:"url"`
	Backend BackendConfig `mapstructure:"backend"`
}

type MediaConfig struct {
	AudioFile string `mapstructure:"audio_file"`
	VideoFile string `mapstructure:"video_file"`
	RecordDir string `mapstructure:"record_dir"`
}

type PlayerConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

type ICEConfig struct {
	Servers []string `mapstructure:"servers"`
	PortMin uint16   `mapstructure:"port_min"`
	PortMax uint16   `mapstructure:"port_max"`
}

type CallConfig struct {
	RingTimeout     time.Duration `mapstructure:"ring_timeout"`
	AutoAnswer      bool          `mapstructure:"auto_answer"`
	CandidateBuffer int           `mapstructure:"candidate_buffer"`
	CaptionTTL      time.Duration `mapstructure:"caption_ttl"`
}

type VADConfig struct {
	Tick             time.Duration `mapstructure:"tick"`
	SpeakThreshold   float64       `mapstructure:"speak_threshold"`
	SilenceThreshold float64       `mapstructure:"silence_threshold"`
	Hangover         time.Duration `mapstructure:"hangover"`
	MaxSegment       time.Duration `mapstructure:"max_segment"`
}

type FramesConfig struct {
	Period   time.Duration `mapstructure:"period"`
	Width    int           `mapstructure:"width"`
	Height   int           `mapstructure:"height"`
	Quality  int           `mapstructure:"quality"`
	LabelTTL time.Duration `mapstructure:"label_ttl"`
}

const EnvPrefix = "SPEAKCALL"

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)

	v.SetDefault("relay.port", 8080)
	v.SetDefault("relay.static_path", "./web")
	v.SetDefault("relay.secret", "change-me")
	v.SetDefault("relay.read_limit", 1<<20)
	v.SetDefault("relay.ping_period", "54s")
	v.SetDefault("relay.send_buffer", 64)
	v.SetDefault("relay.frame_limit", 4)
	v.SetDefault("relay.frame_window", "1s")
	v.SetDefault("relay.tts_url", "")
	v.SetDefault("relay.sign_url", "")
	v.SetDefault("relay.backend.timeout", "10s")
	v.SetDefault("relay.backend.max_retries", 2)
	v.SetDefault("relay.backend.max_concurrent", 8)

	v.SetDefault("agent.port", 8090)
	v.SetDefault("agent.relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("agent.user.id", "")
	v.SetDefault("agent.user.name", "agent")
	v.SetDefault("agent.user.can_hear", true)
	v.SetDefault("agent.user.can_speak", true)
	v.SetDefault("agent.user.sign_relay", false)
	v.SetDefault("agent.stt.url", "")
	v.SetDefault("agent.stt.backend.timeout", "30s")
	v.SetDefault("agent.stt.backend.max_retries", 2)
	v.SetDefault("agent.stt.backend.max_concurrent", 2)
	v.SetDefault("agent.media.audio_file", "")
	v.SetDefault("agent.media.video_file", "")
	v.SetDefault("agent.media.record_dir", "")
	v.SetDefault("agent.player.command", "ffplay")
	v.SetDefault("agent.player.args", []string{"-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0"})
	v.SetDefault("agent.ice.servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("agent.ice.port_min", 0)
	v.SetDefault("agent.ice.port_max", 0)

	v.SetDefault("call.ring_timeout", "45s")
	v.SetDefault("call.auto_answer", false)
	v.SetDefault("call.candidate_buffer", 32)
	v.SetDefault("call.caption_ttl", "4s")

	v.SetDefault("vad.tick", "50ms")
	v.SetDefault("vad.speak_threshold", 10)
	v.SetDefault("vad.silence_threshold", 5)
	v.SetDefault("vad.hangover", "1500ms")
	v.SetDefault("vad.max_segment", "15s")

	v.SetDefault("frames.period", "500ms")
	v.SetDefault("frames.width", 320)
	v.SetDefault("frames.height", 240)
	v.SetDefault("frames.quality", 50)
	v.SetDefault("frames.label_ttl", "2s")
}

// New returns a viper instance with defaults, the config file for
// CONFIG_ENV and SPEAKCALL_* environment overrides wired in.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file if there is one and decodes everything into a
// validated Config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Warn().Str("module", "config").Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("log_level", cfg.Log.Level).Msg("config ready")
	return &cfg, nil
}
