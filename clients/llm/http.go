package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"scanner-voice/voice_config"
	"scanner-voice/voice_errors"
)

const FallbackReply = "I do not have an answer yet."

type clientImpl struct {
	fileSys afero.Fs
	http    *resty.Client
	state   *SessionStore
	log     *logrus.Logger
	now     func() time.Time
}

type Config struct {
	FileSys   afero.Fs
	StatePath string
	Logger    *logrus.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func NewClient(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.FileSys == nil {
		return nil, fmt.Errorf("fileSys is nil")
	}

	if cfg.StatePath == "" {
		return nil, fmt.Errorf("statePath is empty")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	httpClient := resty.New().
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &clientImpl{
		fileSys: cfg.FileSys,
		http:    httpClient,
		state:   NewSessionStore(cfg.FileSys, cfg.StatePath),
		log:     cfg.Logger,
		now:     clock,
	}, nil
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model              string            `json:"model"`
	Input              []inputMessage    `json:"input"`
	MaxOutputTokens    int               `json:"max_output_tokens"`
	Temperature        float64           `json:"temperature"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type responsesResponse struct {
	ID     string `json:"id"`
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// attempt is the outcome of one HTTP round trip.
type attempt struct {
	status int
	body   responsesResponse
	err    error
}

func (client *clientImpl) Exchange(ctx context.Context, settings voice_config.LLMConfig, userText string) (string, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return "", nil
	}

	key, err := client.apiKey(settings)
	if err != nil {
		return "", err
	}

	state, err := client.state.Load()
	if err != nil {
		client.log.WithError(err).Warn("llm state unreadable, starting fresh")
	}

	prevID := state.PreviousResponseID
	if prevID != "" && !IsSafeID(prevID) {
		client.log.WithField("previous_response_id", prevID).Warn("discarding unsafe stored response id")
		prevID = ""
		state.PreviousResponseID = ""
		client.saveState(state)
	}

	sessionID := client.sessionID(settings, state)

	res := client.post(ctx, settings, key, userText, prevID, sessionID)

	if prevID != "" && rejected(res.status) {
		client.log.WithFields(logrus.Fields{
			"status":               res.status,
			"previous_response_id": prevID,
		}).Warn("llm rejected continuation id, retrying without it")

		state.PreviousResponseID = ""
		client.saveState(state)

		res = client.post(ctx, settings, key, userText, "", sessionID)
		if res.err != nil {
			return "", voice_errors.Wrap(voice_errors.LLMTransportError, "llm.exchange.retry", res.err)
		}
	}

	if res.err != nil {
		if res.status >= 400 && res.status < 500 {
			return "", voice_errors.Wrap(voice_errors.LLMRejected, "llm.exchange", res.err)
		}
		return "", voice_errors.Wrap(voice_errors.LLMTransportError, "llm.exchange", res.err)
	}

	state.PreviousResponseID = ""
	if IsSafeID(res.body.ID) {
		state.PreviousResponseID = res.body.ID
	}
	state.SessionID = sessionID
	client.saveState(state)

	text := extractText(res.body)
	if text == "" {
		return FallbackReply, nil
	}

	return text, nil
}

func (client *clientImpl) apiKey(settings voice_config.LLMConfig) (string, error) {
	if settings.Model == "" {
		return "", voice_errors.New(voice_errors.LLMConfigError, "llm.config", "missing llm.model")
	}

	if settings.APIKeyFile == "" {
		return "", voice_errors.New(voice_errors.LLMConfigError, "llm.config", "missing llm.api_key_file")
	}

	data, err := afero.ReadFile(client.fileSys, settings.APIKeyFile)
	if err != nil {
		return "", voice_errors.Wrap(voice_errors.LLMConfigError, "llm.config", err)
	}

	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", voice_errors.New(voice_errors.LLMConfigError, "llm.config",
			fmt.Sprintf("key file empty: %s", settings.APIKeyFile))
	}

	return key, nil
}

// sessionID prefers the configured id, then the one kept in state, then a fresh UUID.
func (client *clientImpl) sessionID(settings voice_config.LLMConfig, state SessionState) string {
	if settings.SessionID != "" {
		return settings.SessionID
	}

	if state.SessionID != "" {
		return state.SessionID
	}

	return uuid.NewString()
}

func (client *clientImpl) post(ctx context.Context, settings voice_config.LLMConfig, key, userText, prevID, sessionID string) attempt {
	payload := responsesRequest{
		Model: settings.Model,
		Input: []inputMessage{
			{Role: "system", Content: settings.SystemPrompt},
			{Role: "user", Content: userText},
		},
		MaxOutputTokens:    settings.MaxOutputTokens,
		Temperature:        settings.Temperature,
		PreviousResponseID: prevID,
	}

	if sessionID != "" {
		payload.Metadata = map[string]string{"session_id": sessionID}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(settings.TimeoutSec)*time.Second)
	defer cancel()

	resp, err := client.http.R().
		SetContext(ctx).
		SetAuthToken(key).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(settings.BaseURL)
	if err != nil {
		return attempt{err: fmt.Errorf("request failed: %w", err)}
	}

	if resp.StatusCode() >= 300 {
		body := strings.ReplaceAll(string(resp.Body()), "\n", " ")
		if len(body) > 400 {
			body = body[:400]
		}
		return attempt{
			status: resp.StatusCode(),
			err:    fmt.Errorf("http=%d body=%s", resp.StatusCode(), body),
		}
	}

	var parsed responsesResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return attempt{status: resp.StatusCode(), err: fmt.Errorf("non-JSON response: %w", err)}
	}

	return attempt{status: resp.StatusCode(), body: parsed}
}

func (client *clientImpl) saveState(state SessionState) {
	state.UpdatedAt = client.now().Format(TimestampLayout)

	if err := client.state.Save(state); err != nil {
		client.log.WithError(err).Warn("saving llm state")
	}
}

// rejected reports a client-side rejection plausibly caused by a stale continuation id.
// Auth and rate-limit failures would fail the same way without it.
func rejected(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return false
	}

	return true
}

func extractText(resp responsesResponse) string {
	parts := make([]string, 0)
	for _, item := range resp.Output {
		for _, c := range item.Content {
			if c.Type != "output_text" {
				continue
			}
			if t := strings.TrimSpace(c.Text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
