package common

// Environment variable keys
const (
	EnvConfigFile     = "CONFIG_FILE"
	EnvSourcesFile    = "SOURCES_FILE"
	EnvJoinedPath     = "JOINED_PATH"
	EnvModelPath      = "MODEL_PATH"
	EnvCheckPath      = "CHECK_PATH"
	EnvDataPath       = "DATA_PATH"
	EnvPort           = "PORT"
	EnvServiceURL     = "SERVICE_URL"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
	EnvSeed           = "SEED"
	EnvModelName      = "MODEL_NAME"
	EnvModelAuthor    = "MODEL_AUTHOR"
	EnvModelVersion   = "MODEL_VERSION"
	EnvIterations     = "TRAIN_ITERATIONS"
	EnvLearningRate   = "TRAIN_LEARNING_RATE"
	EnvDepth          = "TRAIN_DEPTH"
	EnvL2             = "TRAIN_L2"
	EnvPatience       = "TRAIN_PATIENCE"
	EnvTrainFraction  = "TRAIN_FRACTION"
	EnvRequestTimeout = "REQUEST_TIMEOUT"
)

// Configuration defaults
const (
	DefaultSourcesFile    = "data/URL_for_load.json"
	DefaultJoinedPath     = "data/ga_innerjoin.csv.zip"
	DefaultModelPath      = "model/click_model.zst"
	DefaultCheckPath      = "data/01.json"
	DefaultDataPath       = "data"
	DefaultPort           = 8000
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
	DefaultSeed           = 42
	DefaultModelName      = "SberAutopodpiska_click_predict"
	DefaultModelAuthor    = "Oleg Kulikov"
	DefaultModelVersion   = "1.0"
	DefaultIterations     = 2000
	DefaultLearningRate   = 0.07
	DefaultDepth          = 6
	DefaultL2             = 3.0
	DefaultPatience       = 50
	DefaultTrainFraction  = 0.7
	DefaultRequestTimeout = 10 // seconds
)

// Validation constants
const (
	MinPort          = 1024
	MaxPort          = 65535
	MaxIterations    = 100000
	MaxDepth         = 10
	MinTrainFraction = 0.1
	MaxTrainFraction = 0.9
)
