package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Align    AlignConfig    `mapstructure:"align"`
	SimAlign SimAlignConfig `mapstructure:"simalign"`
	Awesome  AwesomeConfig  `mapstructure:"awesome"`
	Server   ServerConfig   `mapstructure:"server"`
	LogLevel string         `mapstructure:"log_level"`
}

type PathsConfig struct {
	ModelPath      string `mapstructure:"model_path"`
	TokenizerModel string `mapstructure:"tokenizer_model"`
	EmbeddingsPath string `mapstructure:"embeddings_path"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
}

type AlignConfig struct {
	Backend     string `mapstructure:"backend"`
	SourceField string `mapstructure:"source_field"`
	TargetField string `mapstructure:"target_field"`
	OutputField string `mapstructure:"output_field"`
	BatchSize   int    `mapstructure:"batch_size"`
}

type SimAlignConfig struct {
	Method          string  `mapstructure:"method"`
	EmbeddingTensor string  `mapstructure:"embedding_tensor"`
	MinSimilarity   float64 `mapstructure:"min_similarity"`
}

type AwesomeConfig struct {
	OutputName       string  `mapstructure:"output_name"`
	Extraction       string  `mapstructure:"extraction"`
	SoftmaxThreshold float64 `mapstructure:"softmax_threshold"`
	MaxSubwords      int     `mapstructure:"max_subwords"`
	PadID            int64   `mapstructure:"pad_id"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelPath:      "models/encoder.onnx",
			TokenizerModel: "models/sentencepiece.model",
			EmbeddingsPath: "models/embeddings.safetensors",
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTVersion:     "",
		},
		Align: AlignConfig{
			Backend:     BackendExact,
			SourceField: "src_words",
			TargetField: "tgt_words",
			OutputField: "word_alignments",
			BatchSize:   1,
		},
		SimAlign: SimAlignConfig{
			Method:          "argmax",
			EmbeddingTensor: "",
			MinSimilarity:   0,
		},
		Awesome: AwesomeConfig{
			OutputName:       "last_hidden_state",
			Extraction:       "softmax",
			SoftmaxThreshold: 0.001,
			MaxSubwords:      512,
			PadID:            0,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 30,
			RequestTimeout:  60,
			MaxBodyBytes:    8 << 20,
		},
		LogLevel: "info",
	}
}

// flagKeys maps each config key to the command line flag that overrides it.
var flagKeys = []struct {
	key  string
	flag string
}{
	{"paths.model_path", "paths-model-path"},
	{"paths.tokenizer_model", "paths-tokenizer-model"},
	{"paths.embeddings_path", "paths-embeddings-path"},
	{"runtime.ort_library_path", "runtime-ort-library-path"},
	{"runtime.ort_version", "runtime-ort-version"},
	{"align.backend", "backend"},
	{"align.source_field", "source-field"},
	{"align.target_field", "target-field"},
	{"align.output_field", "output-field"},
	{"align.batch_size", "batch-size"},
	{"simalign.method", "simalign-method"},
	{"simalign.embedding_tensor", "simalign-embedding-tensor"},
	{"simalign.min_similarity", "simalign-min-similarity"},
	{"awesome.output_name", "awesome-output-name"},
	{"awesome.extraction", "awesome-extraction"},
	{"awesome.softmax_threshold", "awesome-softmax-threshold"},
	{"awesome.max_subwords", "awesome-max-subwords"},
	{"awesome.pad_id", "awesome-pad-id"},
	{"server.listen_addr", "server-listen-addr"},
	{"server.shutdown_timeout", "server-shutdown-timeout"},
	{"server.request_timeout", "server-request-timeout"},
	{"server.max_body_bytes", "server-max-body-bytes"},
	{"log_level", "log-level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-path", defaults.Paths.ModelPath, "Path to the ONNX encoder graph (awesome backend)")
	fs.String("paths-tokenizer-model", defaults.Paths.TokenizerModel, "Path to the SentencePiece tokenizer model")
	fs.String("paths-embeddings-path", defaults.Paths.EmbeddingsPath, "Path to the .safetensors embedding table (simalign backend)")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.String("backend", defaults.Align.Backend, "Aligner backend: exact|simalign|awesome")
	fs.String("source-field", defaults.Align.SourceField, "Record field holding the source words")
	fs.String("target-field", defaults.Align.TargetField, "Record field holding the target words")
	fs.String("output-field", defaults.Align.OutputField, "Record field receiving the alignment")
	fs.Int("batch-size", defaults.Align.BatchSize, "Records per backend batch (1 disables batching)")
	fs.String("simalign-method", defaults.SimAlign.Method, "Similarity extraction: argmax|itermax")
	fs.String("simalign-embedding-tensor", defaults.SimAlign.EmbeddingTensor, "Embedding tensor name (default: first tensor)")
	fs.Float64("simalign-min-similarity", defaults.SimAlign.MinSimilarity, "Drop links below this cosine similarity")
	fs.String("awesome-output-name", defaults.Awesome.OutputName, "Encoder output holding hidden states")
	fs.String("awesome-extraction", defaults.Awesome.Extraction, "Attention extraction method: softmax")
	fs.Float64("awesome-softmax-threshold", defaults.Awesome.SoftmaxThreshold, "Minimum bidirectional softmax probability")
	fs.Int("awesome-max-subwords", defaults.Awesome.MaxSubwords, "Maximum subwords per sentence")
	fs.Int64("awesome-pad-id", defaults.Awesome.PadID, "Token id used for padding")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request alignment timeout in seconds")
	fs.Int64("server-max-body-bytes", defaults.Server.MaxBodyBytes, "Maximum request body size in bytes")
	fs.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("WORDALIGN")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "WORDALIGN_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("wordalign")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", fk.flag, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_path", c.Paths.ModelPath)
	v.SetDefault("paths.tokenizer_model", c.Paths.TokenizerModel)
	v.SetDefault("paths.embeddings_path", c.Paths.EmbeddingsPath)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("align.backend", c.Align.Backend)
	v.SetDefault("align.source_field", c.Align.SourceField)
	v.SetDefault("align.target_field", c.Align.TargetField)
	v.SetDefault("align.output_field", c.Align.OutputField)
	v.SetDefault("align.batch_size", c.Align.BatchSize)
	v.SetDefault("simalign.method", c.SimAlign.Method)
	v.SetDefault("simalign.embedding_tensor", c.SimAlign.EmbeddingTensor)
	v.SetDefault("simalign.min_similarity", c.SimAlign.MinSimilarity)
	v.SetDefault("awesome.output_name", c.Awesome.OutputName)
	v.SetDefault("awesome.extraction", c.Awesome.Extraction)
	v.SetDefault("awesome.softmax_threshold", c.Awesome.SoftmaxThreshold)
	v.SetDefault("awesome.max_subwords", c.Awesome.MaxSubwords)
	v.SetDefault("awesome.pad_id", c.Awesome.PadID)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.max_body_bytes", c.Server.MaxBodyBytes)
	v.SetDefault("log_level", c.LogLevel)
}
