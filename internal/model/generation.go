package model

import (
	"fmt"
	"strings"
)

// Tone 是影响生成文案风格的枚举参数。
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneSales        Tone = "sales"
	ToneCreative     Tone = "creative"
	ToneCasual       Tone = "casual"
)

// DefaultTone 在请求未指定 tone 时使用。
const DefaultTone = ToneProfessional

// Tones 按展示顺序列出全部 tone。
var Tones = []Tone{ToneProfessional, ToneFriendly, ToneSales, ToneCreative, ToneCasual}

var toneDescriptions = map[Tone]string{
	ToneProfessional: "Formal and business-oriented",
	ToneFriendly:     "Warm and approachable",
	ToneSales:        "Persuasive and action-driven",
	ToneCreative:     "Unique and imaginative",
	ToneCasual:       "Relaxed and conversational",
}

// Description 返回 tone 的简短说明，用于拼接提示词。
func (t Tone) Description() string {
	return toneDescriptions[t]
}

// ParseTone 解析 tone，空字符串返回 DefaultTone。
func ParseTone(s string) (Tone, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultTone, nil
	}
	t := Tone(s)
	if _, ok := toneDescriptions[t]; !ok {
		return "", fmt.Errorf("unsupported tone %q", s)
	}
	return t, nil
}

// AdCopy 是广告文案工具的结构化结果。
type AdCopy struct {
	Headlines    []string `json:"headlines"`
	Descriptions []string `json:"descriptions"`
}

// Volume 是关键词的搜索量估计。
type Volume string

const (
	VolumeLow      Volume = "Low"
	VolumeMedium   Volume = "Medium"
	VolumeHigh     Volume = "High"
	VolumeVeryHigh Volume = "Very High"
)

// Difficulty 是关键词的竞争难度估计。
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyLow    Difficulty = "Low"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
	DifficultyHigh   Difficulty = "High"
)

// Keyword 是 SEO 工具返回的一条关键词记录。
type Keyword struct {
	Keyword    string     `json:"keyword"`
	Volume     Volume     `json:"volume"`
	Difficulty Difficulty `json:"difficulty"`
}

// AdsRequest 是广告文案工具的请求体。
type AdsRequest struct {
	ProductDescription string `json:"productDescription"`
	TargetAudience     string `json:"targetAudience"`
	Tone               string `json:"tone"`
}

// AdsResult 同时返回模型原文与解析后的字段。
type AdsResult struct {
	AdCopy       string   `json:"adCopy"`
	Headlines    []string `json:"headlines"`
	Descriptions []string `json:"descriptions"`
}

// SEORequest 是 SEO 关键词工具的请求体。
type SEORequest struct {
	Topic string `json:"topic"`
	Tone  string `json:"tone"`
}

// SEOResult 中的 keywords 总是一个列表，解析失败时也不会退化为字符串。
type SEOResult struct {
	Keywords []Keyword `json:"keywords"`
}

// SocialRequest 是社交媒体文案工具的请求体。
type SocialRequest struct {
	Description string `json:"description"`
	Tone        string `json:"tone"`
}

// SocialResult 的 captions 为模型原文，captionList 为拆分后的列表。
type SocialResult struct {
	Captions    string   `json:"captions"`
	CaptionList []string `json:"captionList"`
}
