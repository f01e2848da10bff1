// Package grounding implements vision-language models reached through an
// OpenAI-compatible chat completions API. It supports open-vocabulary
// grounding, returning rectangles, and image captioning.
package grounding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/labelkit/model-server/pkg/inference"
	"github.com/labelkit/model-server/pkg/inference/config"
	"github.com/labelkit/model-server/pkg/logging"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	TaskGrounding = "grounding"
	TaskCaption   = "caption"

	defaultAPIKeyEnv       = "ZHIPU_API_KEY"
	defaultModelName       = "glm-4.6v"
	defaultMaxTokens       = 2048
	defaultTemperature     = 0.7
	defaultCoordinateScale = 1000
	defaultMaxRetries      = 2
)

const (
	briefPrompt    = "Provide a brief, concise description of this image."
	detailedPrompt = "Describe this image in detail. Include information about: " +
		"the main subjects and objects, their positions and relationships, " +
		"colors, lighting, background, activities or actions taking place, " +
		"and the overall scene or context."
	customPromptFallback = "Describe what you see in this image."
)

var (
	// ErrNoAPIKey is returned by Load when no API key is configured.
	ErrNoAPIKey = errors.New("API key not provided")
	// ErrUnsupportedTask is returned for a task other than grounding or caption.
	ErrUnsupportedTask = errors.New("unsupported task")
)

// Model is a grounding or captioning vision-language model.
type Model struct {
	inference.Base
	log logging.Logger

	modelName   string
	apiBase     string
	apiKeyEnv   string
	defaultTask string

	client *openai.Client
}

// New builds a grounding model. The API key is resolved in Load.
func New(cfg *config.ModelConfig, log logging.Logger) (*Model, error) {
	if log == nil {
		log = logging.Discard()
	}
	p := inference.Params(cfg.Params)

	task := p.String("task", defaultTaskFor(cfg.ModelID))
	if task != TaskGrounding && task != TaskCaption {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTask, task)
	}

	return &Model{
		Base:        inference.NewBase(cfg),
		log:         log.WithField("backend", "grounding"),
		modelName:   p.String("model_name", defaultModelName),
		apiBase:     p.String("api_base", ""),
		apiKeyEnv:   p.String("api_key_env", defaultAPIKeyEnv),
		defaultTask: task,
	}, nil
}

func defaultTaskFor(modelID string) string {
	if strings.Contains(modelID, "caption") {
		return TaskCaption
	}
	return TaskGrounding
}

// Load resolves the API key and builds the API client.
func (m *Model) Load(_ context.Context) error {
	p := inference.Params(m.Config().Params)
	apiKey := p.String("api_key", "")
	if apiKey == "" {
		apiKey = os.Getenv(m.apiKeyEnv)
	}
	if apiKey == "" {
		return fmt.Errorf("%w: set api_key in params or the %s environment variable", ErrNoAPIKey, m.apiKeyEnv)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(max(0, p.Int("max_retries", defaultMaxRetries))),
	}
	if m.apiBase != "" {
		opts = append(opts, option.WithBaseURL(m.apiBase))
	}
	client := openai.NewClient(opts...)
	m.client = &client

	m.log.Infof("Using %s API backend with model %s", m.defaultTask, m.modelName)
	return nil
}

// Predict implements inference.Model.Predict.
func (m *Model) Predict(ctx context.Context, img *inference.Image, params map[string]any) (*inference.PredictResult, error) {
	if m.client == nil {
		return nil, errors.New("grounding model used before Load")
	}
	if img == nil {
		return nil, fmt.Errorf("%w: image is required", inference.ErrInvalidRequest)
	}

	p := m.Params(params)
	switch task := p.String("task", m.defaultTask); task {
	case TaskGrounding:
		return m.predictGrounding(ctx, img, p)
	case TaskCaption:
		return m.predictCaption(ctx, img, p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTask, task)
	}
}

func (m *Model) predictGrounding(ctx context.Context, img *inference.Image, p inference.Params) (*inference.PredictResult, error) {
	cats := categories(p.String("text_prompt", ""))
	if len(cats) == 0 {
		m.log.Warnln("Please provide a text prompt for grounding task.")
		return &inference.PredictResult{Shapes: []inference.Shape{}}, nil
	}

	response, err := m.complete(ctx, img, groundingPrompt(cats), p)
	if err != nil {
		return nil, err
	}
	m.log.Debugf("Grounding response: %s", response)

	scale := p.Float("coordinate_scale", defaultCoordinateScale)
	if scale <= 0 {
		scale = defaultCoordinateScale
	}
	return &inference.PredictResult{
		Shapes: parseGrounding(response, img.Width, img.Height, scale),
	}, nil
}

func groundingPrompt(cats []string) string {
	list := strings.Join(cats, ", ")
	return fmt.Sprintf("Identify all instances of the specified target categories %s in the image. "+
		`Return the results in valid JSON format as a list, where each element is a dictionary `+
		`with keys "label" and "bbox_2d". The "label" value must be one of the class names from `+
		`the input list %s, and "bbox_2d" must be a list of four integers [x1, y1, x2, y2] `+
		`representing the bounding box coordinates. For example: [{"label": "cat", "bbox_2d": [1,2,3,4]}, `+
		`{"label": "dog", "bbox_2d": [5,6,7,8]}]`, list, list)
}

func (m *Model) predictCaption(ctx context.Context, img *inference.Image, p inference.Params) (*inference.PredictResult, error) {
	var prompt string
	switch p.String("prompt_mode", "brief") {
	case "brief":
		prompt = briefPrompt
	case "detailed":
		prompt = detailedPrompt
	default:
		prompt = p.String("custom_prompt", customPromptFallback)
	}

	description, err := m.complete(ctx, img, prompt, p)
	if err != nil {
		return nil, err
	}
	return &inference.PredictResult{Shapes: []inference.Shape{}, Description: description}, nil
}

// complete sends the image and prompt as one user message and returns the
// trimmed reply.
func (m *Model) complete(ctx context.Context, img *inference.Image, prompt string, p inference.Params) (string, error) {
	req := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(m.modelName),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: img.DataURI(),
				}),
				openai.TextContentPart(prompt),
			}),
		},
		MaxTokens:   openai.Int(int64(p.Int("max_tokens", defaultMaxTokens))),
		Temperature: openai.Float(p.Float("temperature", defaultTemperature)),
	}

	var opts []option.RequestOption
	if p.Bool("thinking", false) {
		opts = append(opts, option.WithJSONSet("thinking", map[string]string{"type": "enabled"}))
	}

	resp, err := m.client.Chat.Completions.New(ctx, req, opts...)
	if err != nil {
		return "", fmt.Errorf("chat completion with %s: %w", m.modelName, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion with %s returned no choices", m.modelName)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Unload drops the API client.
func (m *Model) Unload(_ context.Context) error {
	m.client = nil
	return nil
}

// ConcurrentPredict reports that Predict may be called concurrently.
func (m *Model) ConcurrentPredict() bool {
	return true
}
