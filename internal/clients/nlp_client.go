/**
 * NLP Client - Entity and key phrase detection on Vertex AI
 *
 * The extractors and the key-phrase summary engine talk to this client
 * through small interfaces. Each call sends one chunk of Spanish text to a
 * Gemini model in JSON response mode and parses a typed list back.
 *
 * Transient service failures (unavailable, quota, deadline) are retried
 * with exponential backoff. Everything else is returned as a SERVICE_ERROR.
 */

package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
)

const entitySystemPrompt = `You are a named entity recognizer for Spanish legal and identity documents from Colombia.
Return a JSON object {"entities": [{"type": string, "text": string, "score": number}]}.
Use type PERSON for natural persons, ID_NUMBER for identity document numbers (cédula, NUIP), ORGANIZATION, LOCATION, DATE or OTHER for anything else.
"text" must be copied exactly from the input. "score" is your confidence between 0 and 1.
Return {"entities": []} when there are none. Do not add commentary.`

const keyPhraseSystemPrompt = `You extract key phrases from Spanish documents.
Return a JSON object {"keyPhrases": [{"text": string, "score": number}]} with at most 20 phrases.
Each "text" must be copied exactly from the input. "score" is the importance between 0 and 1.
Do not add commentary.`

// generator is the part of *genai.GenerativeModel the client uses
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// NLPClientConfig configures the Vertex AI NLP client
type NLPClientConfig struct {
	ProjectID   string
	Region      string
	Model       string
	MaxAttempts int
	RetryDelay  time.Duration
}

// NLPClient detects entities and key phrases with a Gemini model
type NLPClient struct {
	entities   generator
	keyPhrases generator
	base       *genai.Client

	maxAttempts int
	retryDelay  time.Duration
	logger      *logging.Logger
}

// NewNLPClient creates a client holding the two pre-configured models
func NewNLPClient(ctx context.Context, cfg NLPClientConfig) (*NLPClient, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, apperrors.NewConfigError("GCP_PROJECT", "project and region are required for the NLP client")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}

	base, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	client := newNLPClient(
		jsonModel(base, cfg.Model, entitySystemPrompt),
		jsonModel(base, cfg.Model, keyPhraseSystemPrompt),
		cfg.MaxAttempts, cfg.RetryDelay,
	)
	client.base = base

	client.logger.Info("NLP client ready", "project", cfg.ProjectID, "region", cfg.Region, "model", cfg.Model)
	return client, nil
}

func newNLPClient(entities, keyPhrases generator, maxAttempts int, retryDelay time.Duration) *NLPClient {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &NLPClient{
		entities:    entities,
		keyPhrases:  keyPhrases,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logging.NewLogger("NLPClient"),
	}
}

func jsonModel(base *genai.Client, name, system string) *genai.GenerativeModel {
	model := base.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return model
}

// Close releases the underlying Vertex AI client
func (c *NLPClient) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

type entityResponse struct {
	Entities []models.Entity `json:"entities"`
}

type keyPhraseResponse struct {
	KeyPhrases []models.KeyPhrase `json:"keyPhrases"`
}

// DetectEntities returns the typed entities found in t
func (c *NLPClient) DetectEntities(ctx context.Context, t string) ([]models.Entity, error) {
	if strings.TrimSpace(t) == "" {
		return nil, nil
	}

	var out entityResponse
	if err := c.generateJSON(ctx, c.entities, "entities", t, &out); err != nil {
		return nil, err
	}

	entities := out.Entities[:0]
	for _, e := range out.Entities {
		e.Type = strings.ToUpper(strings.TrimSpace(e.Type))
		e.Text = strings.TrimSpace(e.Text)
		if e.Text == "" {
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// DetectKeyPhrases returns the scored key phrases of t
func (c *NLPClient) DetectKeyPhrases(ctx context.Context, t string) ([]models.KeyPhrase, error) {
	if strings.TrimSpace(t) == "" {
		return nil, nil
	}

	var out keyPhraseResponse
	if err := c.generateJSON(ctx, c.keyPhrases, "keyPhrases", t, &out); err != nil {
		return nil, err
	}
	return out.KeyPhrases, nil
}

// generateJSON calls the model with retries and decodes its JSON answer
func (c *NLPClient) generateJSON(ctx context.Context, model generator, op, t string, out interface{}) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := model.GenerateContent(ctx, genai.Text(t))
		if err == nil {
			body := responseText(resp)
			if body == "" {
				return apperrors.NewServiceError("vertexai", false, fmt.Errorf("%s: empty response", op))
			}
			if err := json.Unmarshal([]byte(body), out); err != nil {
				return apperrors.NewServiceError("vertexai", false, fmt.Errorf("%s: decode response: %w", op, err))
			}
			return nil
		}

		lastErr = err
		if !IsRetryable(err) || attempt == c.maxAttempts {
			break
		}

		c.logger.Warn("NLP call failed, retrying",
			"operation", op, "attempt", attempt, "delay", delay.String(), "error", err)

		select {
		case <-ctx.Done():
			return apperrors.NewServiceError("vertexai", false, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return apperrors.NewServiceError("vertexai", IsRetryable(lastErr), fmt.Errorf("%s: %w", op, lastErr))
}

// responseText joins the text parts of the first candidate and strips a
// markdown code fence if the model added one
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}

	s := strings.TrimSpace(b.String())
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// IsRetryable reports whether err is a transient failure of a Google API
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return true
		}
	}
	return false
}
