package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"durablemeet/audio"
	"durablemeet/capture"
	"durablemeet/devices"
	"durablemeet/diarization"
	"durablemeet/identify"
	"durablemeet/internal/config"
	"durablemeet/internal/control"
	"durablemeet/models"
	"durablemeet/preferences"
	"durablemeet/recording"
)

func main() {
	cfg := config.Load()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC: %v", r)
			panic(r)
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatal("Failed to create data directory:", err)
	}
	if err := os.MkdirAll(cfg.RecordingsDir, 0755); err != nil {
		log.Fatal("Failed to create recordings directory:", err)
	}

	prefs, err := preferences.NewStore(cfg.DataDir, cfg.RecordingsDir)
	if err != nil {
		log.Fatal("Failed to load preferences:", err)
	}

	backend, err := audio.NewCapture()
	if err != nil {
		log.Fatal("Failed to initialize audio capture:", err)
	}
	defer backend.Close()

	registry := devices.NewRegistry(backend)

	state := recording.NewState()
	streams := capture.NewManager(backend, state)
	mgr := recording.NewManagerWithState(registry, streams, cfg.RecordingsDir, state)

	identifyStore, identifyErr := identify.Open(identifyDBPath(cfg.DataDir))
	if identifyErr != nil {
		log.Printf("Warning: failed to open speaker identification store: %v", identifyErr)
	}

	router := diarization.NewModelRouter(diarization.PrivacyMode(cfg.PrivacyMode), connectivityCheck, time.Duration(cfg.ConnectivityCacheTTL)*time.Minute)

	var mapper *identify.Mapper
	if identifyStore != nil {
		provider, perr := buildRoutedProvider(cfg, router)
		if perr != nil {
			log.Printf("Warning: speaker identification disabled: %v", perr)
		} else {
			mapper = identify.NewMapper(identifyStore, provider, identify.DefaultConfidenceThreshold)
		}
	}

	var diarizer *diarization.Diarizer
	modelPath, modelErr := resolveSpeakerEncoderModel(cfg)
	if modelErr != nil {
		log.Printf("Warning: speaker diarization disabled: %v", modelErr)
	} else {
		encoder, encErr := diarization.NewEncoder(diarization.DefaultEncoderConfig(modelPath))
		if encErr != nil {
			log.Printf("Warning: speaker diarization disabled, failed to load speaker encoder: %v", encErr)
		} else {
			diarizer = diarization.NewDiarizer(encoder, []byte(cfg.EmbeddingSalt))
		}
	}

	server := control.NewServer(cfg.HTTPAddr, cfg.GRPCAddr, mgr, registry, prefs, mapper, identifyStore, diarizer, cfg.RecordingsDir)

	go relayDeviceEvents(server, mgr)

	log.Println("Starting durablemeet recorder daemon...")
	server.Start()
}

// resolveSpeakerEncoderModel returns the speaker encoder model path,
// honoring an explicit override and otherwise downloading it into the
// models directory on first run.
func resolveSpeakerEncoderModel(cfg *config.Config) (string, error) {
	if cfg.SpeakerEncoderModelPath != "" {
		return cfg.SpeakerEncoderModelPath, nil
	}

	mgr, err := models.NewManager(cfg.ModelsDir)
	if err != nil {
		return "", fmt.Errorf("open models directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	return mgr.Ensure(ctx, "wespeaker-resnet34", func(progress float64) {
		log.Printf("downloading speaker encoder model: %.0f%%", progress)
	})
}

// identifyDBPath places the speaker identification database alongside
// preferences.json in the data directory.
func identifyDBPath(dataDir string) string {
	return dataDir + string(os.PathSeparator) + "identify.db"
}

// relayDeviceEvents forwards the recording manager's fanned-in monitor
// events onto the control surface, which rebroadcasts them to every
// connected client.
func relayDeviceEvents(server *control.Server, mgr *recording.Manager) {
	for evt := range mgr.DeviceEvents() {
		server.PublishDeviceEvent(evt, evt.Slot)
	}
}

// routedProvider lets the diarization model router's privacy-mode decision
// govern whether speaker identification calls a hosted LLM or stays on the
// local Ollama provider, re-deciding on every identification pass.
type routedProvider struct {
	router   *diarization.ModelRouter
	local    identify.Provider
	external identify.Provider
}

func (p *routedProvider) Identify(ctx context.Context, prompt string) (string, error) {
	useExternal, err := p.router.Choose(ctx)
	if err != nil {
		return "", fmt.Errorf("privacy mode connectivity check: %w", err)
	}
	if useExternal && p.external != nil {
		return p.external.Identify(ctx, prompt)
	}
	return p.local.Identify(ctx, prompt)
}

// buildRoutedProvider wires the configured hosted LLM provider (if any)
// behind the model router, falling back to Ollama whenever the router
// decides against using it.
func buildRoutedProvider(cfg *config.Config, router *diarization.ModelRouter) (identify.Provider, error) {
	local := &identify.OllamaProvider{BaseURL: cfg.OllamaURL, Model: ollamaModelOrDefault(cfg.OllamaModel)}
	if cfg.LLMProvider == "ollama" || cfg.LLMProvider == "" {
		return local, nil
	}
	external, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}
	return &routedProvider{router: router, local: local, external: external}, nil
}

func ollamaModelOrDefault(model string) string {
	if model == "" {
		return "llama3.2"
	}
	return model
}

// buildProvider constructs the configured identification LLM provider.
func buildProvider(cfg *config.Config) (identify.Provider, error) {
	switch cfg.LLMProvider {
	case "ollama":
		model := cfg.OllamaModel
		if model == "" {
			model = "llama3.2"
		}
		return &identify.OllamaProvider{BaseURL: cfg.OllamaURL, Model: model}, nil
	case "openai":
		if cfg.LLMAPIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		model := cfg.LLMModel
		if model == "" {
			model = "gpt-4o-mini"
		}
		return &identify.OpenAIProvider{BaseURL: "https://api.openai.com/v1", APIKey: cfg.LLMAPIKey, Model: model}, nil
	case "anthropic":
		if cfg.LLMAPIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		model := cfg.LLMModel
		if model == "" {
			model = "claude-3-5-haiku-latest"
		}
		return &identify.AnthropicProvider{BaseURL: "https://api.anthropic.com/v1", APIKey: cfg.LLMAPIKey, Model: model}, nil
	case "gemini":
		if cfg.LLMAPIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an API key")
		}
		model := cfg.LLMModel
		if model == "" {
			model = "gemini-1.5-flash"
		}
		return &identify.GeminiProvider{BaseURL: "https://generativelanguage.googleapis.com/v1beta", APIKey: cfg.LLMAPIKey, Model: model}, nil
	case "huggingface":
		if cfg.LLMAPIKey == "" {
			return nil, fmt.Errorf("huggingface provider requires an API key")
		}
		if cfg.LLMModel == "" {
			return nil, fmt.Errorf("huggingface provider requires -llm-model set to the inference endpoint's model id")
		}
		return &identify.HuggingFaceProvider{BaseURL: "https://api-inference.huggingface.co/models/" + cfg.LLMModel, APIKey: cfg.LLMAPIKey}, nil
	case "custom":
		if cfg.LLMModel == "" {
			return nil, fmt.Errorf("custom provider requires -llm-model set to the endpoint URL")
		}
		return &identify.CustomProvider{URL: cfg.LLMModel}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

// connectivityCheck probes for outbound network reachability, used by the
// model router to decide whether external diarization models are usable
// under the prefer_external privacy mode.
func connectivityCheck(ctx context.Context) error {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", "1.1.1.1:443")
	if err != nil {
		return err
	}
	return conn.Close()
}
