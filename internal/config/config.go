package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/mpromonet/gin-detect/internal/detect"
)

const (
	EnvConfigPath = "CONFIG_PATH"

	BackendONNX   = "onnx"
	BackendTFLite = "tflite"

	DeviceCPU     = "cpu"
	DeviceCUDA    = "cuda"
	DeviceEdgeTPU = "edgetpu"
)

type Config struct {
	Server Server `yaml:"server"`
	Model  Model  `yaml:"model"`
	Detect Detect `yaml:"detect"`
	Upload Upload `yaml:"upload"`
	Log    Log    `yaml:"log"`
}

type Server struct {
	Host           string        `yaml:"host" env:"HOST" env-default:"0.0.0.0"`
	Port           string        `yaml:"port" env:"PORT" env-default:"8000"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" env-default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" env-default:"60s"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES" env-default:"52428800"`

	AllowOrigins []string `yaml:"allow_origins" env:"ALLOW_ORIGINS" env-default:"*"`

	// AllowCredentials reflects the request origin and sends
	// Access-Control-Allow-Credentials.
	AllowCredentials bool `yaml:"allow_credentials" env:"ALLOW_CREDENTIALS" env-default:"true"`
}

type Model struct {
	Path          string `yaml:"path" env:"MODEL_PATH" env-default:"sdd.weights.onnx"`
	Backend       string `yaml:"backend" env:"MODEL_BACKEND" env-default:"onnx"`
	Labels        string `yaml:"labels" env:"MODEL_LABELS"`
	InputSize     int    `yaml:"input_size" env:"MODEL_INPUT_SIZE" env-default:"640"`
	Device        string `yaml:"device" env:"MODEL_DEVICE" env-default:"cpu"`
	Threads       int    `yaml:"threads" env:"MODEL_THREADS" env-default:"4"`
	EdgeTPU       bool   `yaml:"edgetpu" env:"MODEL_EDGETPU"`
	Layout        string `yaml:"layout" env:"MODEL_LAYOUT" env-default:"auto"`
	MaxDetections int    `yaml:"max_detections" env:"MODEL_MAX_DETECTIONS" env-default:"300"`
}

// Detect holds the thresholds used when a request does not set them.
type Detect struct {
	ConfThreshold float32 `yaml:"conf_threshold" env:"CONF_THRESHOLD" env-default:"0.25"`
	IoUThreshold  float32 `yaml:"iou_threshold" env:"IOU_THRESHOLD" env-default:"0.45"`
}

type Upload struct {
	Dir string `yaml:"dir" env:"UPLOAD_DIR"`
}

type Log struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT"`
}

// New reads the YAML file at path, when given, then applies environment
// variables and defaults.
func New(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = filepath.Join(os.TempDir(), "gin-detect-uploads")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustNew(path string) *Config {
	cfg, err := New(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is empty"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	switch c.Model.Backend {
	case BackendONNX, BackendTFLite:
	default:
		errs = append(errs, fmt.Errorf("model.backend %q is not onnx or tflite", c.Model.Backend))
	}
	switch c.Model.Device {
	case DeviceCPU, DeviceCUDA:
	default:
		errs = append(errs, fmt.Errorf("model.device %q is not cpu or cuda", c.Model.Device))
	}
	if _, err := detect.ParseLayout(c.Model.Layout); err != nil {
		errs = append(errs, fmt.Errorf("model.layout: %w", err))
	}
	if c.Model.InputSize <= 0 {
		errs = append(errs, errors.New("model.input_size must be positive"))
	}
	if !unit(c.Detect.ConfThreshold) {
		errs = append(errs, fmt.Errorf("detect.conf_threshold %v is outside [0,1]", c.Detect.ConfThreshold))
	}
	if !unit(c.Detect.IoUThreshold) {
		errs = append(errs, fmt.Errorf("detect.iou_threshold %v is outside [0,1]", c.Detect.IoUThreshold))
	}
	return errors.Join(errs...)
}

// Addr is the listen address.
func (s Server) Addr() string {
	return s.Host + ":" + s.Port
}

func unit(v float32) bool {
	return v >= 0 && v <= 1
}
