package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"escalens/internal/config"
	"escalens/internal/logger"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"

// Classification is the structured result of one classify call. Confidences
// are 0-1 fractions as returned by the model; scaling to 0-100 is the
// caller's business.
type Classification struct {
	IssueType       string  `json:"issueType"`
	IssueConfidence float64 `json:"issueConfidence"`
	RootCause       string  `json:"rootCause"`
	RootConfidence  float64 `json:"rootConfidence"`
}

// Client talks to the configured model provider. It is safe for concurrent
// use; token usage is accumulated across all calls.
type Client struct {
	provider string
	model    string
	apiKey   string

	issueTypes []string
	rootCauses []string

	exampleCount  int
	exampleMaxLen int

	log *logger.Logger

	mu       sync.Mutex
	usage    Usage
	examples *exampleIndex
}

func New(cfg config.Config) *Client {
	model := cfg.LLMModel
	if model == "" {
		if cfg.LLMProvider == "openai" {
			model = defaultOpenAIModel
		} else {
			model = defaultAnthropicModel
		}
	}
	return &Client{
		provider:      cfg.LLMProvider,
		model:         model,
		apiKey:        cfg.LLMCredential(),
		issueTypes:    cfg.AllowedIssueTypes,
		rootCauses:    cfg.AllowedRootCauses,
		exampleCount:  cfg.LLMExampleCount,
		exampleMaxLen: cfg.LLMExampleMaxLen,
		log:           logger.New(),
	}
}

// Configured reports whether a credential is available for the provider.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// SetExamples builds the few-shot index from already-labeled escalations.
func (c *Client) SetExamples(examples []Example) {
	idx := buildExampleIndex(examples)
	c.mu.Lock()
	c.examples = idx
	c.mu.Unlock()
}

// Usage returns a snapshot of accumulated token usage.
func (c *Client) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *Client) addUsage(u Usage) {
	c.mu.Lock()
	c.usage.Add(u)
	c.mu.Unlock()
}

// Classify asks the model for an issue type and root cause for one
// escalation. One call answers both fields.
func (c *Client) Classify(ctx context.Context, summary, description string) (Classification, error) {
	systemPrompt, userPrompt := c.buildClassifyPrompts(summary, description)

	c.log.WithFields(logrus.Fields{
		"provider": c.provider,
		"model":    c.model,
	}).Debug("llm classify")

	responseText, usage, err := c.call(ctx, systemPrompt, userPrompt)
	c.addUsage(usage)
	if err != nil {
		return Classification{}, err
	}
	return parseClassification(responseText)
}

const narrativeSystemPrompt = `You are a support operations analyst. Write brief, concrete insights for an engineering audience. Plain text bullets, no markdown headings.`

// GenerateNarrative produces the insights digest text for an already-built
// prompt.
func (c *Client) GenerateNarrative(ctx context.Context, prompt string) (string, error) {
	c.log.WithFields(logrus.Fields{
		"provider": c.provider,
		"model":    c.model,
	}).Debug("llm narrative")

	responseText, usage, err := c.call(ctx, narrativeSystemPrompt, prompt)
	c.addUsage(usage)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(responseText), nil
}

func (c *Client) call(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	if c.provider == "openai" {
		return c.callOpenAI(ctx, systemPrompt, userPrompt)
	}
	return c.callAnthropic(ctx, systemPrompt, userPrompt)
}

func (c *Client) buildClassifyPrompts(summary, description string) (string, string) {
	var issueLines strings.Builder
	for _, label := range c.issueTypes {
		issueLines.WriteString(fmt.Sprintf("- %s\n", label))
	}
	var causeLines strings.Builder
	for _, label := range c.rootCauses {
		causeLines.WriteString(fmt.Sprintf("- %s\n", label))
	}

	systemPrompt := fmt.Sprintf(`You classify support escalations.
Choose exactly one issueType from:
%s
Choose exactly one rootCause from:
%s
Set issueConfidence and rootConfidence between 0 and 1.

Respond with JSON only (no markdown):
{"issueType": "Bug", "issueConfidence": 0.91, "rootCause": "Product Defect", "rootConfidence": 0.84}`,
		issueLines.String(), causeLines.String())

	examplesBlock := "none"
	c.mu.Lock()
	idx := c.examples
	c.mu.Unlock()
	if idx != nil {
		query := strings.TrimSpace(summary + " " + description)
		selected := idx.topK(query, c.exampleCount)
		if len(selected) > 0 {
			var exBuf strings.Builder
			for _, ex := range selected {
				text := strings.TrimSpace(ex.Text)
				if len(text) > c.exampleMaxLen {
					text = text[:c.exampleMaxLen] + "..."
				}
				exBuf.WriteString(fmt.Sprintf("- EX|%s|%s|%s\n", ex.IssueType, ex.RootCause, text))
			}
			examplesBlock = exBuf.String()
		}
	}

	userPrompt := "Examples from previously labeled escalations (issueType|rootCause|text):\n" + examplesBlock +
		"\nClassify this escalation:\n\n" +
		"Summary: " + strings.TrimSpace(summary) + "\n" +
		"Description: " + strings.TrimSpace(description) + "\n"
	return systemPrompt, userPrompt
}

func parseClassification(responseText string) (Classification, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var parsed Classification
	if err := json.Unmarshal([]byte(responseText), &parsed); err != nil {
		return Classification{}, fmt.Errorf("parsing classification response: %w (response: %s)", err, responseText)
	}
	parsed.IssueType = strings.TrimSpace(parsed.IssueType)
	parsed.RootCause = strings.TrimSpace(parsed.RootCause)
	return parsed, nil
}

// --- Anthropic ---

func (c *Client) callAnthropic(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	client := anthropic.NewClient(option.WithAPIKey(c.apiKey))

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		c.log.WithError(err).Warn("llm anthropic error")
		return "", Usage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			c.log.WithFields(logrus.Fields{
				"size":         len(block.Text),
				"tokens_in":    usage.InputTokens,
				"tokens_out":   usage.OutputTokens,
				"cache_create": usage.CacheCreationInputTokens,
				"cache_read":   usage.CacheReadInputTokens,
			}).Debug("llm anthropic response")
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

// --- OpenAI ---

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) callOpenAI(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	reqBody := openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.log.WithError(err).Warn("llm openai error")
		return "", Usage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", Usage{}, fmt.Errorf("parsing OpenAI response: %w", err)
	}

	if openAIResp.Error != nil {
		c.log.WithField("message", openAIResp.Error.Message).Warn("llm openai api error")
		return "", Usage{}, fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}

	if len(openAIResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no choices in OpenAI response")
	}
	usage := Usage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}

	c.log.WithFields(logrus.Fields{
		"size":       len(openAIResp.Choices[0].Message.Content),
		"tokens_in":  usage.InputTokens,
		"tokens_out": usage.OutputTokens,
	}).Debug("llm openai response")
	return openAIResp.Choices[0].Message.Content, usage, nil
}
