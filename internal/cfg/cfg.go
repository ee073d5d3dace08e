package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"click-predict/internal/common"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	SourcesFile    string
	JoinedPath     string
	ModelPath      string
	CheckPath      string
	DataPath       string
	Port           int
	ServiceURL     string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
	Seed           int64
	Model          ModelInfo
	Training       Training
}

// ModelInfo is the fixed identity written into every artifact's metadata.
type ModelInfo struct {
	Name    string
	Author  string
	Version string
}

// Training holds the boosting parameters used by the train command.
type Training struct {
	Iterations    int
	LearningRate  float64
	Depth         int
	L2            float64
	Patience      int
	TrainFraction float64
}

type ConfigFile struct {
	Paths struct {
		SourcesFile string `yaml:"sourcesFile"`
		JoinedPath  string `yaml:"joinedPath"`
		ModelPath   string `yaml:"modelPath"`
		CheckPath   string `yaml:"checkPath"`
		DataPath    string `yaml:"dataPath"`
	} `yaml:"paths"`

	Server struct {
		Port           int    `yaml:"port"`
		ServiceURL     string `yaml:"serviceURL"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Model struct {
		Name    string `yaml:"name"`
		Author  string `yaml:"author"`
		Version string `yaml:"version"`
	} `yaml:"model"`

	Training struct {
		Seed          int64   `yaml:"seed"`
		Iterations    int     `yaml:"iterations"`
		LearningRate  float64 `yaml:"learningRate"`
		Depth         int     `yaml:"depth"`
		L2            float64 `yaml:"l2"`
		Patience      int     `yaml:"patience"`
		TrainFraction float64 `yaml:"trainFraction"`
	} `yaml:"training"`
}

// Sources points at the two raw compressed tables consumed by the import job.
type Sources struct {
	SessionsZip string `yaml:"ga_sessions_zip" json:"ga_sessions_zip"`
	HitsZip     string `yaml:"ga_hits_zip" json:"ga_hits_zip"`
}

func Load() (Settings, error) {
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

// LoadSources reads the JSON sources file. JSON is a subset of YAML, so the
// same decoder used for the settings file handles it.
func LoadSources(path string) (Sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sources{}, fmt.Errorf("failed to read sources file %s: %w", path, err)
	}

	var src Sources
	if err := yaml.Unmarshal(data, &src); err != nil {
		return Sources{}, fmt.Errorf("failed to parse sources file: %w", err)
	}
	if src.SessionsZip == "" {
		return Sources{}, fmt.Errorf("sources file %s: ga_sessions_zip is required", path)
	}
	if src.HitsZip == "" {
		return Sources{}, fmt.Errorf("sources file %s: ga_hits_zip is required", path)
	}
	return src, nil
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	requestTimeout, err := time.ParseDuration(config.Server.RequestTimeout)
	if err != nil {
		requestTimeout = common.DefaultRequestTimeout * time.Second
	}

	settings := Settings{
		SourcesFile:    getEnvOrDefault(common.EnvSourcesFile, orString(config.Paths.SourcesFile, common.DefaultSourcesFile)),
		JoinedPath:     getEnvOrDefault(common.EnvJoinedPath, orString(config.Paths.JoinedPath, common.DefaultJoinedPath)),
		ModelPath:      getEnvOrDefault(common.EnvModelPath, orString(config.Paths.ModelPath, common.DefaultModelPath)),
		CheckPath:      getEnvOrDefault(common.EnvCheckPath, orString(config.Paths.CheckPath, common.DefaultCheckPath)),
		DataPath:       getEnvOrDefault(common.EnvDataPath, orString(config.Paths.DataPath, common.DefaultDataPath)),
		Port:           getIntOrDefault(common.EnvPort, orInt(config.Server.Port, common.DefaultPort)),
		ServiceURL:     getEnvOrDefault(common.EnvServiceURL, config.Server.ServiceURL),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, orString(config.Log.Level, common.DefaultLogLevel)),
		LogFormat:      getEnvOrDefault(common.EnvLogFormat, orString(config.Log.Format, common.DefaultLogFormat)),
		Seed:           int64(getIntOrDefault(common.EnvSeed, int(orInt64(config.Training.Seed, common.DefaultSeed)))),
		Model: ModelInfo{
			Name:    getEnvOrDefault(common.EnvModelName, orString(config.Model.Name, common.DefaultModelName)),
			Author:  getEnvOrDefault(common.EnvModelAuthor, orString(config.Model.Author, common.DefaultModelAuthor)),
			Version: getEnvOrDefault(common.EnvModelVersion, orString(config.Model.Version, common.DefaultModelVersion)),
		},
		Training: Training{
			Iterations:    getIntOrDefault(common.EnvIterations, orInt(config.Training.Iterations, common.DefaultIterations)),
			LearningRate:  getFloatOrDefault(common.EnvLearningRate, orFloat(config.Training.LearningRate, common.DefaultLearningRate)),
			Depth:         getIntOrDefault(common.EnvDepth, orInt(config.Training.Depth, common.DefaultDepth)),
			L2:            getFloatOrDefault(common.EnvL2, orFloat(config.Training.L2, common.DefaultL2)),
			Patience:      getIntOrDefault(common.EnvPatience, orInt(config.Training.Patience, common.DefaultPatience)),
			TrainFraction: getFloatOrDefault(common.EnvTrainFraction, orFloat(config.Training.TrainFraction, common.DefaultTrainFraction)),
		},
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		SourcesFile:    getEnvOrDefault(common.EnvSourcesFile, common.DefaultSourcesFile),
		JoinedPath:     getEnvOrDefault(common.EnvJoinedPath, common.DefaultJoinedPath),
		ModelPath:      getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		CheckPath:      getEnvOrDefault(common.EnvCheckPath, common.DefaultCheckPath),
		DataPath:       getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		Port:           getIntOrDefault(common.EnvPort, common.DefaultPort),
		ServiceURL:     os.Getenv(common.EnvServiceURL), // optional
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, common.DefaultRequestTimeout*time.Second),
		LogLevel:       strings.ToLower(getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel)),
		LogFormat:      strings.ToLower(getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat)),
		Seed:           int64(getIntOrDefault(common.EnvSeed, common.DefaultSeed)),
		Model: ModelInfo{
			Name:    getEnvOrDefault(common.EnvModelName, common.DefaultModelName),
			Author:  getEnvOrDefault(common.EnvModelAuthor, common.DefaultModelAuthor),
			Version: getEnvOrDefault(common.EnvModelVersion, common.DefaultModelVersion),
		},
		Training: Training{
			Iterations:    getIntOrDefault(common.EnvIterations, common.DefaultIterations),
			LearningRate:  getFloatOrDefault(common.EnvLearningRate, common.DefaultLearningRate),
			Depth:         getIntOrDefault(common.EnvDepth, common.DefaultDepth),
			L2:            getFloatOrDefault(common.EnvL2, common.DefaultL2),
			Patience:      getIntOrDefault(common.EnvPatience, common.DefaultPatience),
			TrainFraction: getFloatOrDefault(common.EnvTrainFraction, common.DefaultTrainFraction),
		},
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orInt64(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// validateSettings performs range validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.JoinedPath == "" {
		return fmt.Errorf("joined table path cannot be empty")
	}

	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}
	if settings.RequestTimeout < time.Second || settings.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request timeout must be between 1s and 5m, got %v", settings.RequestTimeout)
	}

	if settings.Model.Name == "" || settings.Model.Author == "" || settings.Model.Version == "" {
		return fmt.Errorf("model name, author and version are required")
	}

	t := settings.Training
	if t.Iterations <= 0 || t.Iterations > common.MaxIterations {
		return fmt.Errorf("iterations must be between 1 and %d, got %d", common.MaxIterations, t.Iterations)
	}
	if t.LearningRate <= 0 || t.LearningRate > 1 {
		return fmt.Errorf("learning rate must be in (0, 1], got %f", t.LearningRate)
	}
	if t.Depth <= 0 || t.Depth > common.MaxDepth {
		return fmt.Errorf("depth must be between 1 and %d, got %d", common.MaxDepth, t.Depth)
	}
	if t.L2 < 0 {
		return fmt.Errorf("l2 regularization cannot be negative, got %f", t.L2)
	}
	if t.Patience <= 0 {
		return fmt.Errorf("patience must be positive, got %d", t.Patience)
	}
	if t.TrainFraction < common.MinTrainFraction || t.TrainFraction > common.MaxTrainFraction {
		return fmt.Errorf("train fraction must be between %.1f and %.1f, got %f", common.MinTrainFraction, common.MaxTrainFraction, t.TrainFraction)
	}

	return nil
}
