// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-stream/internal/cache"
	"github.com/jeranaias/rigrun-stream/internal/cloud"
	"github.com/jeranaias/rigrun-stream/internal/completion"
	"github.com/jeranaias/rigrun-stream/internal/config"
	"github.com/jeranaias/rigrun-stream/internal/logging"
	"github.com/jeranaias/rigrun-stream/internal/ollama"
	"github.com/jeranaias/rigrun-stream/internal/openai"
)

// ErrUnknownAPIType is returned for an api_type no adapter handles.
var ErrUnknownAPIType = errors.New("unknown api type")

// Provider is a configured model plus the settings a Chat needs around it.
type Provider struct {
	Model              completion.Model
	Target             cache.Target
	CredentialRequired bool
	Options            completion.Options

	lister func(ctx context.Context) ([]string, error)
}

// New builds the adapter selected by cfg.APIType. The model name may be
// overridden per call, as "ask --model" does.
func New(cfg config.ProviderConfig, log *logging.Logger) (*Provider, error) {
	log = logging.OrNop(log)

	p := &Provider{
		Target: cache.Target{
			Preset: cfg.Preset,
			URL:    cfg.ServiceURL,
			Model:  cfg.Model,
			APIKey: cfg.APIKey,
		},
		CredentialRequired: cfg.APIType != config.APITypeOllama,
		Options: completion.Options{
			Temperature:     cfg.Temperature,
			ReasoningEffort: cfg.ReasoningEffort,
			MaxTokens:       cfg.MaxTokens,
		},
	}

	switch strings.ToLower(cfg.APIType) {
	case config.APITypeCompletion, config.APITypeResponses:
		baseURL := cfg.ServiceURL
		if baseURL == "" {
			baseURL = cloud.DefaultBaseURL
			p.Target.URL = baseURL
		}
		client := cloud.NewClient(baseURL, cfg.APIKey).
			WithMaxRetries(cfg.MaxRetries).
			WithRateLimit(cfg.RequestsPerSecond).
			WithLogger(log)
		if cfg.APIType == config.APITypeResponses {
			p.Model = NewResponsesModel(client, cfg.Model, cfg.SystemPrompt)
		} else {
			p.Model = NewChatModel(client, cfg.Model, cfg.SystemPrompt)
		}
		// Model listing goes through the SDK; both speak the same /models.
		p.lister = openai.NewClient(baseURL, cfg.APIKey, log).ListModels

	case config.APITypeSDK:
		client := openai.NewClient(cfg.ServiceURL, cfg.APIKey, log)
		if p.Target.URL == "" {
			p.Target.URL = client.BaseURL()
		}
		p.Model = NewSDKModel(client, cfg.Model, cfg.SystemPrompt)
		p.lister = client.ListModels

	case config.APITypeOllama:
		occ := ollama.DefaultConfig()
		if cfg.ServiceURL != "" {
			occ.BaseURL = cfg.ServiceURL
		}
		occ.DefaultModel = cfg.Model
		occ.Logger = log
		client := ollama.NewClientWithConfig(occ)
		p.Target.URL = client.BaseURL()
		p.Model = NewOllamaModel(client, cfg.Model, cfg.SystemPrompt)
		p.lister = func(ctx context.Context) ([]string, error) {
			models, err := client.ListModels(ctx)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(models))
			for _, m := range models {
				names = append(names, m.Name)
			}
			return names, nil
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAPIType, cfg.APIType)
	}

	return p, nil
}

// WithModel returns a copy of p that targets a different model on the same
// service.
func (p *Provider) WithModel(cfg config.ProviderConfig, name string, log *logging.Logger) (*Provider, error) {
	if name == "" || name == p.Model.Name() {
		return p, nil
	}
	cfg.Model = name
	return New(cfg, log)
}

// ChatConfig returns a completion.ChatConfig for this provider.
func (p *Provider) ChatConfig() completion.ChatConfig {
	return completion.ChatConfig{
		Model:              p.Model,
		Target:             p.Target,
		CredentialRequired: p.CredentialRequired,
		Options:            p.Options,
	}
}

// ListModels returns the model names the service offers.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	if p.lister == nil {
		return nil, errors.New("model listing not supported")
	}
	return p.lister(ctx)
}
