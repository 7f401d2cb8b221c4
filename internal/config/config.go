package config

import (
	"flag"
	"path/filepath"
	"runtime"
)

type Config struct {
	DataDir       string // preferences.json, identify.db
	RecordingsDir string // default save folder for meeting output
	HTTPAddr      string
	GRPCAddr      string

	ModelsDir               string // downloaded/cached ONNX model files
	SpeakerEncoderModelPath string // overrides ModelsDir lookup when set
	VADModelPath            string
	EmbeddingSalt           string

	PrivacyMode          string // local_only, prefer_external, external_only
	ConnectivityCacheTTL int    // minutes

	LLMProvider string // ollama, openai, anthropic, gemini, huggingface, custom
	OllamaURL   string
	OllamaModel string
	LLMAPIKey   string
	LLMModel    string

	VoiceProfileRetentionDays int
}

func Load() *Config {
	dataDir := flag.String("data", "data", "Directory for preferences, voice profiles and the identification database")
	recordingsDir := flag.String("recordings", "", "Default folder meetings are saved into (default: dataDir/recordings)")
	httpAddr := flag.String("http-addr", ":8090", "HTTP listen address for the websocket event feed")
	grpcAddr := flag.String("grpc-addr", defaultGRPCAddress(), "gRPC listen address (unix:/path/to.sock or npipe:\\\\.\\pipe\\durablemeet-grpc)")

	modelsDir := flag.String("models-dir", "", "Directory for downloaded ONNX models (default: dataDir/models)")
	speakerModel := flag.String("speaker-encoder-model", "", "Path to the ONNX speaker embedding model (default: download into models-dir)")
	vadModel := flag.String("vad-model", "", "Path to the Silero VAD ONNX model")
	embeddingSalt := flag.String("embedding-salt", "", "Installation-specific salt mixed into every persisted embedding hash")

	privacyMode := flag.String("privacy-mode", "prefer_external", "Diarization model router privacy mode: local_only, prefer_external, external_only")
	connectivityTTL := flag.Int("connectivity-cache-ttl-min", 5, "Minutes to cache the model router's connectivity check")

	llmProvider := flag.String("llm-provider", "ollama", "Identification LLM provider: ollama, openai, anthropic, gemini, huggingface, custom")
	ollamaURL := flag.String("ollama-url", "http://localhost:11434", "Ollama API URL")
	ollamaModel := flag.String("ollama-model", "llama3.2", "Ollama model used for speaker identification")
	llmAPIKey := flag.String("llm-api-key", "", "API key for the configured hosted LLM provider")
	llmModel := flag.String("llm-model", "", "Model name for the configured hosted LLM provider")

	retentionDays := flag.Int("voice-profile-retention-days", 90, "Days of inactivity before a voice profile is eligible for deletion")

	flag.Parse()

	finalRecordingsDir := *recordingsDir
	if finalRecordingsDir == "" {
		finalRecordingsDir = filepath.Join(*dataDir, "recordings")
	}
	finalModelsDir := *modelsDir
	if finalModelsDir == "" {
		finalModelsDir = filepath.Join(*dataDir, "models")
	}

	return &Config{
		DataDir:                   *dataDir,
		RecordingsDir:             finalRecordingsDir,
		HTTPAddr:                  *httpAddr,
		GRPCAddr:                  *grpcAddr,
		ModelsDir:                 finalModelsDir,
		SpeakerEncoderModelPath:   *speakerModel,
		VADModelPath:              *vadModel,
		EmbeddingSalt:             *embeddingSalt,
		PrivacyMode:               *privacyMode,
		ConnectivityCacheTTL:      *connectivityTTL,
		LLMProvider:               *llmProvider,
		OllamaURL:                 *ollamaURL,
		OllamaModel:               *ollamaModel,
		LLMAPIKey:                 *llmAPIKey,
		LLMModel:                  *llmModel,
		VoiceProfileRetentionDays: *retentionDays,
	}
}

func defaultGRPCAddress() string {
	if runtime.GOOS == "windows" {
		return "npipe:\\\\.\\pipe\\durablemeet-grpc"
	}
	return "unix:/tmp/durablemeet-grpc.sock"
}
