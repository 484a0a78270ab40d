/*
Package core advisor nudge generation.

The advisor is a secondary agent that proactively drafts contextual
suggestions from storefront page context, surfaced by the widget only while
the chat window is closed. Unlike the main shopping agent (which lives in
the hosted reasoning engine), the advisor runs inside the gateway against a
directly configured LLM provider, so nudges stay cheap and do not consume
upstream sessions.

Model output is sanitized before parsing: reasoning models wrap responses
in think tags and chat models love fencing JSON in markdown blocks, and
both break structured decoding if left in place.
*/
package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"happyshopper/agent"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
)

var (
	thinkTagRegex  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// Advisor generates proactive shopping nudges from page context.
type Advisor struct {
	llm    llms.Model
	config *Config
	logger *logrus.Logger
}

// NewAdvisor initializes the advisor against the configured LLM provider.
func NewAdvisor(ctx context.Context, config *Config, logger *logrus.Logger) (*Advisor, error) {
	var llm llms.Model
	var err error

	switch config.AdvisorProvider {
	case "gemini":
		logger.WithFields(logrus.Fields{
			"provider": "gemini",
			"model":    config.GeminiModel,
		}).Info("Initializing advisor LLM")

		if config.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini API key is required when using gemini provider. Set GEMINI_API_KEY environment variable")
		}

		llm, err = googleai.New(
			ctx,
			googleai.WithAPIKey(config.GeminiAPIKey),
			googleai.WithDefaultModel(config.GeminiModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini LLM: %w", err)
		}

	case "ollama":
		fallthrough
	default:
		logger.WithFields(logrus.Fields{
			"provider": "ollama",
			"endpoint": config.OllamaEndpoint,
			"model":    config.OllamaModel,
		}).Info("Initializing advisor LLM")

		llm, err = ollama.New(
			ollama.WithServerURL(config.OllamaEndpoint),
			ollama.WithModel(config.OllamaModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama LLM: %w", err)
		}
	}

	logger.Info("Advisor LLM initialized successfully")
	return &Advisor{llm: llm, config: config, logger: logger}, nil
}

// NewAdvisorWithModel wires an advisor around a pre-built model. Used by
// tests to substitute a fake.
func NewAdvisorWithModel(llm llms.Model, config *Config, logger *logrus.Logger) *Advisor {
	return &Advisor{llm: llm, config: config, logger: logger}
}

// GenerateNudge produces one advisor nudge for the given page context.
// The model is asked for structured JSON; its output is cleaned and the
// reply extracted with the same resilient parser the widget uses for the
// main agent's structured replies.
func (a *Advisor) GenerateNudge(ctx context.Context, pageContext string) (*agent.ModelReply, error) {
	prompt := BuildAdvisorPrompt(pageContext)

	raw, err := llms.GenerateFromSinglePrompt(ctx, a.llm, prompt)
	if err != nil {
		return nil, fmt.Errorf("advisor generation failed: %w", err)
	}

	cleaned := CleanModelOutput(raw)
	a.logger.WithFields(logrus.Fields{
		"rawLength": len(raw),
		"response":  a.truncateForLog(cleaned),
	}).Debug("Advisor model responded")

	reply, ok := agent.ParseModelReply([]byte(cleaned))
	if !ok {
		// Unparsable structure degrades to a plain-text nudge with no
		// suggestions rather than failing the request.
		text := strings.TrimSpace(cleaned)
		if text == "" {
			return nil, fmt.Errorf("advisor returned an empty response")
		}
		a.logger.WithField("response", a.truncateForLog(text)).Warn("Advisor reply was not structured, degrading to plain text")
		return &agent.ModelReply{Message: text}, nil
	}

	return reply, nil
}

// CleanModelOutput strips reasoning tags and markdown code fences from raw
// model output so the structured payload can be decoded.
func CleanModelOutput(raw string) string {
	cleaned := thinkTagRegex.ReplaceAllString(raw, "")
	cleaned = strings.TrimSpace(cleaned)

	if matches := codeFenceRegex.FindStringSubmatch(cleaned); len(matches) > 1 {
		cleaned = matches[1]
	}

	return strings.TrimSpace(cleaned)
}

func (a *Advisor) truncateForLog(text string) string {
	if len(text) <= a.config.LogTruncateLength {
		return text
	}
	return text[:a.config.LogTruncateLength] + "..."
}
