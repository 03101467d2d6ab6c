package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"urbaninfra/internal/gemini"
	"urbaninfra/internal/logger"
	"urbaninfra/internal/perplexity"
)

// Generator：多模态文本生成（*gemini.Client 满足此接口）
type Generator interface {
	Generate(ctx context.Context, parts ...gemini.Part) (string, error)
}

// Chatter：单轮对话（*perplexity.Client 满足此接口）
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Recommender：为会话的最近结果生成建设选址建议
type Recommender interface {
	Recommend(ctx context.Context, res *Result, constructionType string) (string, error)
}

var ErrNoModel = errors.New("analysis: recommendation model not configured")

const (
	greeneryTask = `You are an urban analysis assistant focused on Delhi, India.
Using the provided ward metadata and satellite imagery, estimate a greenery score
between 0 and 10 (higher means more visible vegetation), summarize what you see,
and relate it to the population density.`
	greeneryTaskNoImage = `You are an urban analysis assistant focused on Delhi, India.
No satellite imagery is available, so rely only on the ward metadata to infer
greenery conditions. Estimate a greenery score between 0 and 10, summarize the
likely vegetation, and relate it to the population density.`
	greeneryFormat = `
Respond ONLY with valid JSON in this structure:
{
  "greenery_score": <integer 0-10>,
  "greenery_summary": <string>,
  "population_context": <string>,
  "observations": [<string>, ...]
}
Ground every observation in the image cues or the metadata.`

	treeSystem = "You recommend trees indigenous to Delhi."
	treeFormat = `Output requirements (follow exactly):
- Return EXACTLY 5 items as a numbered list from 1 to 5.
- Each item MUST be a single line: 1. **Tree Name** (Latin name) - rationale (12-20 words).
- Bold ONLY the common tree name.
- Do NOT include citations or reference markers like [1].
- No headings, no extra paragraphs, no code fences, no trailing commentary.`
)

// 文档注释：接入外部模型的分析器
// 背景：面积、人口密度等确定性指标仍由 Base 计算；Model 给出绿化评估，Trees 给出本地树种建议
// 约束：绿化评估失败时整体失败（/analyze 返回 500）；树种建议失败只降级为一条说明文字
// Model 或 Trees 为空时跳过对应步骤
type AIAnalyzer struct {
	Base  Analyzer
	Model Generator
	Trees Chatter
}

func (a AIAnalyzer) Analyze(ctx context.Context, in Input) (Report, error) {
	base := a.Base
	if base == nil {
		base = MetadataAnalyzer{}
	}
	r, err := base.Analyze(ctx, in)
	if err != nil {
		return Report{}, err
	}
	if a.Model != nil {
		g, err := a.greenery(ctx, in)
		if err != nil {
			return Report{}, err
		}
		r.Greenery = &g
	}
	if a.Trees != nil {
		r.Trees = a.trees(ctx, in)
	}
	return r, nil
}

func (a AIAnalyzer) greenery(ctx context.Context, in Input) (Greenery, error) {
	meta, err := json.MarshalIndent(in.AIMetadata, "", "  ")
	if err != nil {
		return Greenery{}, err
	}
	parts := make([]gemini.Part, 0, 3)
	if in.Image != nil && len(in.Image.Data) > 0 {
		parts = append(parts, gemini.TextPart(greeneryTask+greeneryFormat), gemini.ImagePart(in.Image.MIME, in.Image.Data))
	} else {
		parts = append(parts, gemini.TextPart(greeneryTaskNoImage+greeneryFormat))
	}
	parts = append(parts, gemini.TextPart("Ward metadata (JSON):\n"+string(meta)))

	text, err := a.Model.Generate(ctx, parts...)
	if err != nil {
		return Greenery{}, err
	}
	var g Greenery
	if err := gemini.DecodeJSON(text, &g); err != nil {
		return Greenery{}, err
	}
	g.Score = math.Min(math.Max(g.Score, 0), 10)
	return g, nil
}

// trees：失败时返回一条说明文字而不是错误
func (a AIAnalyzer) trees(ctx context.Context, in Input) []string {
	meta, _ := json.Marshal(in.AIMetadata)
	prompt := "You are a Delhi-based urban forestry expert. Based on this ward metadata: " + string(meta) +
		", list 5 native Delhi tree species with a short rationale for each.\n" + treeFormat
	content, err := a.Trees.Chat(ctx, treeSystem, prompt)
	if err != nil {
		logger.L().Warn("analyze_trees_degraded", "err", err)
		var se *perplexity.StatusError
		if errors.As(err, &se) {
			return []string{fmt.Sprintf("Unable to fetch tree suggestions (%v)", err)}
		}
		return []string{"Tree suggestion service failed: " + err.Error()}
	}
	items := perplexity.ParseList(content)
	for i := range items {
		items[i] = perplexity.StripCitations(items[i])
	}
	return items
}

// 文档注释：生成建设选址建议
// 参数：res 为会话最近一次结果（元数据已精简）；constructionType 为用户输入的建设类型
// 返回：去掉首尾空白的建议文本
func (a AIAnalyzer) Recommend(ctx context.Context, res *Result, constructionType string) (string, error) {
	if a.Model == nil {
		return "", ErrNoModel
	}
	meta, _ := json.Marshal(res.Metadata)
	greenery, _ := json.Marshal(res.Report.Greenery)
	trees, _ := json.Marshal(res.Report.Trees)

	var b strings.Builder
	b.WriteString("You are an urban planner for Delhi adhering to SDG 11 and Delhi Development Authority rules.\n")
	fmt.Fprintf(&b, "Construction type requested: %s.\n", constructionType)
	fmt.Fprintf(&b, "Ward metadata: %s\n", meta)
	fmt.Fprintf(&b, "Greenery findings: %s\n", greenery)
	fmt.Fprintf(&b, "Suggested trees: %s\n", trees)
	b.WriteString("Identify one or two optimal micro-locations within the ward for the construction. For each location provide:\n" +
		"1. A short description tied to features visible in the imagery metadata.\n" +
		"2. Why it satisfies SDG 11 principles (e.g. sustainable transport, inclusive access).\n" +
		"3. How it complies with relevant DDA guidance (setbacks, green buffers, density).\n" +
		"Close with one actionable next step for city planners. Limit the answer to 200 words. " +
		"Put each point in its own paragraph with a bold heading such as **SDG 11 Requirements**, " +
		"**DDA Rules Compliance** and **Actionable Next Steps**.")

	text, err := a.Model.Generate(ctx, gemini.TextPart(b.String()))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
