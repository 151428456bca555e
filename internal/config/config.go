package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds everything the API process needs.
type Server struct {
	Addr           string        `yaml:"addr"`
	DatabaseURL    string        `yaml:"database_url"`
	APIKeys        []string      `yaml:"api_keys"`
	RateLimit      int           `yaml:"rate_limit"`
	RateWindow     time.Duration `yaml:"rate_window"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RedisAddr      string        `yaml:"redis_addr"`
	NATSURL        string        `yaml:"nats_url"`
	FramesDir      string        `yaml:"frames_dir"`
	DedupWindow    time.Duration `yaml:"dedup_window"`
	RetentionDays  int           `yaml:"retention_days"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	SeedOnStart    bool          `yaml:"seed_on_start"`
	MigrateOnStart bool          `yaml:"migrate_on_start"`
}

// Vision holds the per-agent pipeline settings. Line geometry and direction
// mapping come from cameras.json, not from here.
type Vision struct {
	BackendAPIURL       string        `yaml:"backend_api_url"`
	BackendEventPath    string        `yaml:"backend_event_path"`
	BackendAPIKey       string        `yaml:"backend_api_key"`
	APITimeout          time.Duration `yaml:"api_timeout"`
	APIRetryAttempts    int           `yaml:"api_retry_attempts"`
	APIRetryDelay       time.Duration `yaml:"api_retry_delay"`
	LocalLogPath        string        `yaml:"local_log_path"`
	QueuePath           string        `yaml:"queue_path"`
	FlushIntervalFrames int           `yaml:"flush_interval_frames"`
	FlushBatchSize      int           `yaml:"flush_batch_size"`

	CameraID string `yaml:"camera_id"`
	FloorID  int64  `yaml:"floor_id"`

	ModelPath           string  `yaml:"model_path"`
	ONNXLibraryPath     string  `yaml:"onnx_library_path"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	IOUThreshold        float64 `yaml:"iou_threshold"`
	TargetClasses       string  `yaml:"target_classes"`

	VideoInputType  string        `yaml:"video_input_type"`
	VideoInputPath  string        `yaml:"video_input_path"`
	VideoFPS        int           `yaml:"video_fps"`
	FrameWidth      int           `yaml:"frame_width"`
	FrameHeight     int           `yaml:"frame_height"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	MaxFrames       int           `yaml:"max_frames"`

	TrackBuffer int `yaml:"track_buffer"`

	CameraConfigPath string `yaml:"camera_config_path"`

	AreaThreshold             int `yaml:"area_threshold"`
	DuplicateCooldownFrames   int `yaml:"duplicate_cooldown_frames"`
	OcclusionToleranceFrames  int `yaml:"occlusion_tolerance_frames"`
	MinCrossingDistancePx     int `yaml:"min_crossing_distance_px"`
	ReversalSuppressionFrames int `yaml:"reversal_suppression_frames"`

	DarkBrightnessThreshold float64 `yaml:"dark_brightness_threshold"`
	LowLightConfFactor      float64 `yaml:"low_light_conf_factor"`
	LowLightMinConfidence   float64 `yaml:"low_light_min_confidence"`
	LowLightEnhance         bool    `yaml:"low_light_enhance"`

	DashboardPath            string `yaml:"dashboard_path"`
	DashboardIntervalFrames  int    `yaml:"dashboard_interval_frames"`
	HealthCheckIntervalFrames int   `yaml:"health_check_interval_frames"`

	SaveFrames     bool   `yaml:"save_frames"`
	FrameOutputDir string `yaml:"frame_output_dir"`
}

type file struct {
	Server Server `yaml:"server"`
	Vision Vision `yaml:"vision"`
}

// LoadServer builds the server config: yaml overlay first (CONFIG_FILE,
// default config/default.yaml, skipped when absent), env vars win.
func LoadServer() (*Server, error) {
	f, err := loadFile()
	if err != nil {
		return nil, err
	}
	c := f.Server

	c.Addr = getEnv("LISTEN_ADDR", pick(c.Addr, ":8000"))
	c.DatabaseURL = getEnv("DATABASE_URL", pick(c.DatabaseURL, "./data/smartpark.db"))
	if v := os.Getenv("API_KEYS"); v != "" {
		c.APIKeys = splitCSV(v)
	}
	c.RateLimit = getEnvInt("API_RATE_LIMIT", pickInt(c.RateLimit, 100))
	c.RateWindow = getEnvSeconds("API_RATE_LIMIT_WINDOW_SECONDS", pickDur(c.RateWindow, 60*time.Second))
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitCSV(v)
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.FramesDir = getEnv("FRAMES_DIR", pick(c.FramesDir, "./frames"))
	c.DedupWindow = getEnvSeconds("EVENT_DEDUP_WINDOW_SECONDS", pickDur(c.DedupWindow, 5*time.Second))
	c.RetentionDays = getEnvInt("EVENT_RETENTION_DAYS", pickInt(c.RetentionDays, 30))
	c.SweepInterval = getEnvSeconds("EVENT_SWEEP_INTERVAL_SECONDS", pickDur(c.SweepInterval, time.Hour))
	c.SeedOnStart = getEnvBool("SEED_ON_START", c.SeedOnStart)
	c.MigrateOnStart = getEnvBool("MIGRATE_ON_START", true)
	return &c, nil
}

// LoadVision builds the vision agent config the same way.
func LoadVision() (*Vision, error) {
	f, err := loadFile()
	if err != nil {
		return nil, err
	}
	c := f.Vision

	c.BackendAPIURL = getEnv("BACKEND_API_URL", pick(c.BackendAPIURL, "http://localhost:8000"))
	c.BackendEventPath = getEnv("BACKEND_EVENT_ENDPOINT", pick(c.BackendEventPath, "/event"))
	c.BackendAPIKey = getEnv("BACKEND_API_KEY", c.BackendAPIKey)
	c.APITimeout = getEnvSeconds("API_TIMEOUT", pickDur(c.APITimeout, 5*time.Second))
	c.APIRetryAttempts = getEnvInt("API_RETRY_ATTEMPTS", pickInt(c.APIRetryAttempts, 3))
	c.APIRetryDelay = getEnvSeconds("API_RETRY_DELAY", pickDur(c.APIRetryDelay, time.Second))
	c.LocalLogPath = getEnv("EVENT_LOCAL_LOG_PATH", pick(c.LocalLogPath, "./logs/events_local.jsonl"))
	c.QueuePath = getEnv("EVENT_QUEUE_PATH", pick(c.QueuePath, "./logs/events_queue.jsonl"))
	c.FlushIntervalFrames = getEnvInt("EVENT_FLUSH_INTERVAL_FRAMES", pickInt(c.FlushIntervalFrames, 30))
	c.FlushBatchSize = getEnvInt("EVENT_FLUSH_BATCH_SIZE", pickInt(c.FlushBatchSize, 100))

	c.CameraID = getEnv("CAMERA_ID", pick(c.CameraID, "cam_001"))
	c.FloorID = int64(getEnvInt("FLOOR_ID", pickInt(int(c.FloorID), 1)))

	c.ModelPath = getEnv("MODEL_PATH", pick(c.ModelPath, "./models/yolov8n.onnx"))
	c.ONNXLibraryPath = getEnv("ONNX_LIBRARY_PATH", c.ONNXLibraryPath)
	c.ConfidenceThreshold = getEnvFloat("MODEL_CONFIDENCE_THRESHOLD", pickFloat(c.ConfidenceThreshold, 0.5))
	c.IOUThreshold = getEnvFloat("MODEL_IOU_THRESHOLD", pickFloat(c.IOUThreshold, 0.45))
	c.TargetClasses = getEnv("MODEL_TARGET_CLASSES", pick(c.TargetClasses, "car,motorcycle,bus,truck"))

	c.VideoInputType = getEnv("VIDEO_INPUT_TYPE", pick(c.VideoInputType, "file"))
	c.VideoInputPath = getEnv("VIDEO_INPUT_PATH", pick(c.VideoInputPath, "./data/sample_video.mp4"))
	c.VideoFPS = getEnvInt("VIDEO_FPS", pickInt(c.VideoFPS, 15))
	c.FrameWidth = getEnvInt("VIDEO_FRAME_WIDTH", pickInt(c.FrameWidth, 1280))
	c.FrameHeight = getEnvInt("VIDEO_FRAME_HEIGHT", pickInt(c.FrameHeight, 720))
	c.ReconnectDelay = getEnvSeconds("VIDEO_RECONNECT_DELAY_SECONDS", pickDur(c.ReconnectDelay, time.Second))
	c.MaxFrames = getEnvInt("MAX_FRAMES", c.MaxFrames)

	c.TrackBuffer = getEnvInt("TRACKER_TRACK_BUFFER", pickInt(c.TrackBuffer, 30))

	c.CameraConfigPath = getEnv("CAMERA_CONFIG_PATH", pick(c.CameraConfigPath, "./config/cameras.json"))

	c.AreaThreshold = getEnvInt("AREA_THRESHOLD", pickInt(c.AreaThreshold, 100))
	c.DuplicateCooldownFrames = getEnvInt("EVENT_DUPLICATE_COOLDOWN_FRAMES", pickInt(c.DuplicateCooldownFrames, 12))
	c.OcclusionToleranceFrames = getEnvInt("EVENT_OCCLUSION_TOLERANCE_FRAMES", pickInt(c.OcclusionToleranceFrames, 20))
	c.MinCrossingDistancePx = getEnvInt("EVENT_MIN_CROSSING_DISTANCE_PX", pickInt(c.MinCrossingDistancePx, 5))
	c.ReversalSuppressionFrames = getEnvInt("EVENT_REVERSAL_SUPPRESSION_FRAMES", pickInt(c.ReversalSuppressionFrames, 20))

	c.DarkBrightnessThreshold = getEnvFloat("DARK_FRAME_BRIGHTNESS_THRESHOLD", pickFloat(c.DarkBrightnessThreshold, 60))
	c.LowLightConfFactor = getEnvFloat("LOW_LIGHT_CONFIDENCE_FACTOR", pickFloat(c.LowLightConfFactor, 0.8))
	c.LowLightMinConfidence = getEnvFloat("LOW_LIGHT_MIN_CONFIDENCE", pickFloat(c.LowLightMinConfidence, 0.25))
	c.LowLightEnhance = getEnvBool("LOW_LIGHT_ENHANCE_FRAME", c.LowLightEnhance)

	c.DashboardPath = getEnv("MONITOR_DASHBOARD_PATH", pick(c.DashboardPath, "./logs/monitoring_dashboard.json"))
	c.DashboardIntervalFrames = getEnvInt("MONITOR_WRITE_INTERVAL_FRAMES", pickInt(c.DashboardIntervalFrames, 15))
	c.HealthCheckIntervalFrames = getEnvInt("BACKEND_HEALTH_CHECK_INTERVAL_FRAMES", pickInt(c.HealthCheckIntervalFrames, 60))

	c.SaveFrames = getEnvBool("SAVE_FRAMES", c.SaveFrames)
	c.FrameOutputDir = getEnv("FRAME_OUTPUT_DIR", pick(c.FrameOutputDir, "./frames"))
	return &c, nil
}

// TargetClassNames returns the configured class filter, lowercased.
func (c *Vision) TargetClassNames() []string {
	return splitCSV(strings.ToLower(c.TargetClasses))
}

// EventURL is the full endpoint the transmitter posts to.
func (c *Vision) EventURL() string {
	return strings.TrimRight(c.BackendAPIURL, "/") + c.BackendEventPath
}

func loadFile() (*file, error) {
	path := getEnv("CONFIG_FILE", "config/default.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &file{}, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &f, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func pickInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func pickFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

func pickDur(v, fallback time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return fallback
}
