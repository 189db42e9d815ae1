package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"sqlweave/internal/plan"
	"sqlweave/internal/schema"
)

// Gemini generates fragments, decompositions and compositions through the
// GenAI SDK. Transient failures (transport errors, empty responses,
// malformed structured output) are retried with a linear backoff before
// surfacing.
type Gemini struct {
	client     *genai.Client
	model      string
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger

	// call performs one raw model invocation; tests swap it out.
	call func(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error)
}

const defaultModel = "gemini-2.5-flash"

// NewGemini builds a client against the Gemini API. An empty model selects
// the default.
func NewGemini(ctx context.Context, apiKey, model string, log *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: missing API key")
	}
	if model == "" {
		model = defaultModel
	}
	if log == nil {
		log = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	g := &Gemini{
		client:     client,
		model:      model,
		maxRetries: 2,
		backoff:    500 * time.Millisecond,
		log:        log,
	}
	g.call = g.modelCall
	return g, nil
}

func (g *Gemini) modelCall(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	if req.Node == nil {
		return "", errors.New("gemini: nil node")
	}
	g.log.Debug("generating fragment",
		zap.String("node", req.Node.ID),
		zap.Int("attempt", req.Attempt),
		zap.String("feedback", issueSummary(req.Feedback)))

	text, err := g.complete(ctx, fragmentPrompt(req))
	if err != nil {
		return "", err
	}
	frag := stripFences(text)
	if frag == "" {
		return "", errors.New("gemini: model returned an empty fragment")
	}
	return frag, nil
}

// Decompose asks the model for a structured decomposition and builds the
// plan graph from it. Only malformed responses are retried here; transport
// failures already exhaust their retry budget inside generateText, so they
// surface immediately. Callers wrap this with a heuristic fallback.
func (g *Gemini) Decompose(ctx context.Context, question string, sc *schema.Schema) (*plan.Graph, error) {
	schemaText := ""
	if sc != nil {
		schemaText = sc.PromptText()
	}
	prompt := decomposePrompt(question, schemaText)

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := g.wait(ctx, attempt); err != nil {
			return nil, err
		}
		text, err := g.completeJSON(ctx, prompt)
		if err != nil {
			return nil, err
		}
		graph, err := graphFromJSON(question, stripFences(text))
		if err != nil {
			g.log.Debug("rejecting malformed decomposition", zap.Error(err))
			lastErr = err
			continue
		}
		return graph, nil
	}
	return nil, fmt.Errorf("gemini: decompose: %w", lastErr)
}

// Compose implements Composer.
func (g *Gemini) Compose(ctx context.Context, question string, fragments map[plan.OpKind][]string) (string, error) {
	text, err := g.complete(ctx, composePrompt(question, fragments))
	if err != nil {
		return "", err
	}
	stmt := stripFences(text)
	if stmt == "" {
		return "", errors.New("gemini: model returned an empty statement")
	}
	return stmt, nil
}

func (g *Gemini) complete(ctx context.Context, prompt string) (string, error) {
	return g.generateText(ctx, prompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.2),
	})
}

// completeJSON constrains the response to JSON so structured output never
// arrives wrapped in prose.
func (g *Gemini) completeJSON(ctx context.Context, prompt string) (string, error) {
	return g.generateText(ctx, prompt, &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.2),
		ResponseMIMEType: "application/json",
	})
}

func (g *Gemini) generateText(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := g.wait(ctx, attempt); err != nil {
			return "", err
		}
		text, err := g.call(ctx, prompt, cfg)
		if err != nil {
			g.log.Warn("model call failed", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}
		if strings.TrimSpace(text) == "" {
			lastErr = errors.New("empty model response")
			continue
		}
		return text, nil
	}
	return "", fmt.Errorf("gemini: %w", lastErr)
}

func (g *Gemini) wait(ctx context.Context, attempt int) error {
	if attempt == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(attempt) * g.backoff):
		return nil
	}
}

// stripFences removes a markdown code fence if the model wrapped its
// answer in one, and trims a trailing semicolon.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
}

// decompositionDoc is the strict JSON shape the decompose prompt requests.
type decompositionDoc struct {
	Nodes []struct {
		ID          string   `json:"id"`
		Kind        string   `json:"kind"`
		Description string   `json:"description"`
		Tables      []string `json:"tables"`
		Columns     []string `json:"columns"`
		Conditions  []string `json:"conditions"`
	} `json:"nodes"`
	Edges [][]string `json:"edges"`
}

// graphFromJSON parses a decomposition document and materializes the plan
// graph, rejecting unknown kinds, malformed edges and cycles.
func graphFromJSON(question, raw string) (*plan.Graph, error) {
	var doc decompositionDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse decomposition: %w", err)
	}
	if len(doc.Nodes) == 0 {
		return nil, errors.New("decomposition has no nodes")
	}
	graph := plan.New(question)
	for _, n := range doc.Nodes {
		kind, err := plan.ParseOpKind(n.Kind)
		if err != nil {
			return nil, err
		}
		node := &plan.Node{
			ID:          n.ID,
			Kind:        kind,
			Description: n.Description,
			Tables:      n.Tables,
			Columns:     n.Columns,
			Conditions:  n.Conditions,
		}
		if err := graph.AddNode(node); err != nil {
			return nil, err
		}
	}
	for _, e := range doc.Edges {
		if len(e) != 2 {
			return nil, fmt.Errorf("malformed edge %v", e)
		}
		if err := graph.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}
	return graph, nil
}
