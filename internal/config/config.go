package config

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
	pkgconfig "github.com/weiawesome/wes-io-live/coordinator/pkg/config"
	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
	"github.com/weiawesome/wes-io-live/coordinator/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/coordinator/pkg/storage"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	WebSocket    WebSocketConfig    `mapstructure:"websocket"`
	Signal       SignalConfig       `mapstructure:"signal"`
	Room         RoomConfig         `mapstructure:"room"`
	Media        MediaConfig        `mapstructure:"media"`
	HLS          HLSConfig          `mapstructure:"hls"`
	FFmpeg       FFmpegConfig       `mapstructure:"ffmpeg"`
	Live         LiveConfig         `mapstructure:"live"`
	SessionStore SessionStoreConfig `mapstructure:"session_store"`
	PubSub       pubsub.Config      `mapstructure:"pubsub"`
	Mirror       MirrorConfig       `mapstructure:"mirror"`
	Log          pkglog.Config      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type SignalConfig struct {
	// AutoCreateRooms lets join-room create a room for an unknown id.
	AutoCreateRooms bool `mapstructure:"auto_create_rooms"`
}

type RoomConfig struct {
	DefaultTitle    string        `mapstructure:"default_title"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	EmptyGrace      time.Duration `mapstructure:"empty_grace"`
	CodeAttempts    int           `mapstructure:"code_attempts"`
}

type MediaConfig struct {
	ICEServers []ICEServerConfig `mapstructure:"ice_servers"`
	UDPPortMin uint16            `mapstructure:"udp_port_min"`
	UDPPortMax uint16            `mapstructure:"udp_port_max"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// WebRTCICEServers converts the configured servers for pion.
func (m MediaConfig) WebRTCICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(m.ICEServers))
	for _, s := range m.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

type HLSConfig struct {
	OutputDir       string `mapstructure:"output_dir"`
	SegmentDuration int    `mapstructure:"segment_duration"`
	PlaylistSize    int    `mapstructure:"playlist_size"`
	DeleteSegments  bool   `mapstructure:"delete_segments"`
	// PublicBase prefixes playback URLs, e.g. "/hls" or "https://cdn.example.com/hls".
	PublicBase string `mapstructure:"public_base"`
}

type FFmpegConfig struct {
	Binary        string `mapstructure:"binary"`
	FallbackInput string `mapstructure:"fallback_input"`
	VideoCodec    string `mapstructure:"video_codec"`
	VideoPreset   string `mapstructure:"video_preset"`
	VideoBitrate  string `mapstructure:"video_bitrate"`
	Framerate     int    `mapstructure:"framerate"`
}

type LiveConfig struct {
	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
	ReadyGrace      time.Duration `mapstructure:"ready_grace"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MinPeers is the occupancy below which a live room's pipeline is stopped.
	MinPeers int `mapstructure:"min_peers"`
}

type SessionStoreConfig struct {
	Driver string             `mapstructure:"driver"` // "memory", "redis"
	Redis  SessionRedisConfig `mapstructure:"redis"`
}

type SessionRedisConfig struct {
	Address   string        `mapstructure:"address"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type MirrorConfig struct {
	// Driver is "none" or "s3".
	Driver string           `mapstructure:"driver"`
	S3     storage.S3Config `mapstructure:"s3"`
}

func Load(configPath string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("signal.auto_create_rooms", "AUTO_CREATE_ROOMS")
	v.BindEnv("hls.output_dir", "HLS_OUTPUT_DIR")
	v.BindEnv("hls.public_base", "HLS_PUBLIC_BASE")
	v.BindEnv("ffmpeg.binary", "FFMPEG_BINARY")
	v.BindEnv("ffmpeg.fallback_input", "FFMPEG_FALLBACK_INPUT")
	v.BindEnv("session_store.driver", "SESSION_STORE_DRIVER")
	v.BindEnv("session_store.redis.address", "REDIS_ADDRESS")
	v.BindEnv("session_store.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("mirror.driver", "MIRROR_DRIVER")
	v.BindEnv("mirror.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("mirror.s3.bucket", "S3_BUCKET")
	v.BindEnv("mirror.s3.prefix", "S3_PREFIX")
	v.BindEnv("mirror.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("mirror.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Room.CleanupInterval = parseDuration(v, "room.cleanup_interval", time.Minute)
	cfg.Room.EmptyGrace = parseDuration(v, "room.empty_grace", 2*time.Minute)
	cfg.Live.StopTimeout = parseDuration(v, "live.stop_timeout", 5*time.Second)
	cfg.Live.ReadyGrace = parseDuration(v, "live.ready_grace", 10*time.Second)
	cfg.Live.ShutdownTimeout = parseDuration(v, "live.shutdown_timeout", 15*time.Second)
	cfg.SessionStore.Redis.TTL = parseDuration(v, "session_store.redis.ttl", 24*time.Hour)

	if cfg.WebSocket.PingInterval >= cfg.WebSocket.PongWait {
		return nil, fmt.Errorf("websocket.ping_interval (%s) must be shorter than websocket.pong_wait (%s)",
			cfg.WebSocket.PingInterval, cfg.WebSocket.PongWait)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("signal.auto_create_rooms", true)
	v.SetDefault("room.default_title", "Live Stream")
	v.SetDefault("room.cleanup_interval", "1m")
	v.SetDefault("room.empty_grace", "2m")
	v.SetDefault("room.code_attempts", 64)
	v.SetDefault("media.ice_servers", []map[string]any{{"urls": []string{"stun:stun.l.google.com:19302"}}})
	v.SetDefault("media.udp_port_min", 40000)
	v.SetDefault("media.udp_port_max", 40100)
	v.SetDefault("hls.output_dir", "./hls")
	v.SetDefault("hls.segment_duration", 2)
	v.SetDefault("hls.playlist_size", 10)
	v.SetDefault("hls.delete_segments", true)
	v.SetDefault("hls.public_base", "/hls")
	v.SetDefault("ffmpeg.binary", "ffmpeg")
	v.SetDefault("ffmpeg.fallback_input", "rtp://127.0.0.1:5000")
	v.SetDefault("ffmpeg.video_codec", "libx264")
	v.SetDefault("ffmpeg.video_preset", "veryfast")
	v.SetDefault("ffmpeg.video_bitrate", "2500k")
	v.SetDefault("ffmpeg.framerate", 30)
	v.SetDefault("live.stop_timeout", "5s")
	v.SetDefault("live.ready_grace", "10s")
	v.SetDefault("live.shutdown_timeout", "15s")
	v.SetDefault("live.min_peers", 1)
	v.SetDefault("session_store.driver", "memory")
	v.SetDefault("session_store.redis.address", "localhost:6379")
	v.SetDefault("session_store.redis.key_prefix", "live:session:")
	v.SetDefault("session_store.redis.ttl", "24h")
	v.SetDefault("pubsub.driver", "none")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.redis.read_timeout", "3s")
	v.SetDefault("pubsub.redis.write_timeout", "3s")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("mirror.driver", "none")
	v.SetDefault("mirror.s3.region", "us-east-1")
	v.SetDefault("mirror.s3.use_path_style", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "coordinator")
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
