package extraction

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

// LLMConfig configures an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LLMExtractor extracts requirements with a chat completion call that must
// answer with a JSON object.
type LLMExtractor struct {
	cfg        LLMConfig
	httpClient *http.Client
}

func NewLLMExtractor(cfg LLMConfig) *LLMExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &LLMExtractor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (e *LLMExtractor) Model() string { return e.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// extractionPayload is the JSON object the model is asked to return.
type extractionPayload struct {
	Requirements map[string]interface{} `json:"requirements"`
	Confidence   map[string]interface{} `json:"confidence"`
	Evidence     []struct {
		FieldPath string `json:"field_path"`
		Snippet   string `json:"snippet"`
		StartChar *int   `json:"start_char"`
		EndChar   *int   `json:"end_char"`
	} `json:"evidence"`
}

const systemPrompt = `你是自動化系統需求分析專家，負責從客戶訪談逐字稿整理結構化需求。

規則：
1. 只使用逐字稿中明確出現的資訊，不可自行推測數據
2. 未知欄位填 null，並把問題加入 open_questions
3. 所有文字欄位使用繁體中文（台灣用語）
4. 每個擷取到的欄位都要附上證據片段 snippet 與字元位置
5. 每個主要區塊給出 0 到 1 的信心分數

回應必須是 JSON 物件，包含 requirements、confidence、evidence 三個欄位；
evidence 的每一筆包含 field_path、snippet、start_char、end_char。`

func buildPrompt(transcript string) string {
	return `請從以下訪談逐字稿擷取自動化系統需求：

` + transcript + `

requirements 請使用下列結構：
- customer_pain_points：客戶痛點（陣列）
- products：產品資訊（name、material、dimensions 等）
- workpiece：工件資訊（weight_range、dimensions、material 等）
- process：製程資訊（count、steps、needs_flip 等）
- machines：設備資訊（count、types 等）
- cycle_time：節拍時間（current、target 等）
- layout：場地配置（space_constraints、existing_equipment 等）
- constraints：限制條件（budget、timeline、technical 等）
- options：偏好選項（robot_type、robot_count、automation_level 等）
- acceptance：驗收標準（criteria、tests 等）
- open_questions：待確認問題（陣列）

請以 JSON 回應，包含 requirements、confidence、evidence。`
}

// Extract calls the chat completion endpoint and maps the answer onto
// requirements, confidence and evidence linked to transcript segments.
func (e *LLMExtractor) Extract(ctx context.Context, in Input) (*Result, error) {
	prompt := buildPrompt(in.Text)
	sum := sha256.Sum256([]byte(prompt))

	content, err := e.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	if payload.Requirements == nil {
		payload.Requirements = map[string]interface{}{}
	}

	res := &Result{
		Model:      e.cfg.Model,
		PromptHash: hex.EncodeToString(sum[:]),
		Data:       payload.Requirements,
		Confidence: numericScores(payload.Confidence),
	}
	for _, ev := range payload.Evidence {
		item := models.Evidence{
			FieldPath: ev.FieldPath,
			Snippet:   ev.Snippet,
			StartChar: ev.StartChar,
			EndChar:   ev.EndChar,
		}
		if seg := findSegment(ev.Snippet, in.Segments); seg != nil {
			idx := seg.Idx
			item.SegmentIdx = &idx
			if item.StartChar == nil {
				item.StartChar, item.EndChar = spanWithin(seg, ev.Snippet)
			}
		}
		res.Evidence = append(res.Evidence, item)
	}
	return res, nil
}

func (e *LLMExtractor) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    0.1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var out chatResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode/100 != 2 {
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("LLM API error (%d): %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("LLM API error (%d): %s", resp.StatusCode, truncate(string(raw), 300))
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to parse response: %w", decodeErr)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("LLM API returned no content")
	}
	return out.Choices[0].Message.Content, nil
}

// findSegment returns the first segment containing snippet, ignoring case.
func findSegment(snippet string, segments []models.TranscriptSegment) *models.TranscriptSegment {
	needle := strings.ToLower(strings.TrimSpace(snippet))
	if needle == "" {
		return nil
	}
	for i := range segments {
		if strings.Contains(strings.ToLower(segments[i].Text), needle) {
			return &segments[i]
		}
	}
	return nil
}

// spanWithin locates snippet in the segment text and converts the match to
// transcript rune offsets. Only exact matches produce a span.
func spanWithin(seg *models.TranscriptSegment, snippet string) (*int, *int) {
	snippet = strings.TrimSpace(snippet)
	at := strings.Index(seg.Text, snippet)
	if at < 0 {
		return nil, nil
	}
	start := seg.StartChar + utf8.RuneCountInString(seg.Text[:at])
	end := start + utf8.RuneCountInString(snippet)
	return &start, &end
}

func numericScores(in map[string]interface{}) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
