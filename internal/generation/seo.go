package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"marketai-go/internal/model"
)

const (
	KeywordCount       = 8
	PlaceholderKeyword = "Generated keyword"
)

// SEOSystemPrompt 生成 SEO 关键词工具的 system 指令。
func SEOSystemPrompt(tone model.Tone) string {
	return fmt.Sprintf(`You are an SEO expert. Generate a list of %d relevant SEO keywords based on the topic provided.

Tone/Style: %s (%s)

For each keyword, provide:
- The keyword phrase
- Estimated search volume (Low, Medium, High, Very High)
- Difficulty level (Easy, Low, Medium, Hard, High)

Format your response as a JSON array like this:
[
  {"keyword": "keyword phrase", "volume": "High", "difficulty": "Medium"},
  {"keyword": "another keyword", "volume": "Medium", "difficulty": "Easy"}
]

Make sure keywords are:
- Relevant to the topic
- A mix of short-tail and long-tail keywords
- Actionable for SEO optimization
- Realistic volume and difficulty estimates based on typical search patterns`,
		KeywordCount, tone, tone.Description())
}

// SEOUserPrompt 用户消息就是主题本身。
func SEOUserPrompt(topic string) string {
	return strings.TrimSpace(topic)
}

// ExtractJSONArray returns the text from the first '[' to the last ']'
// inclusive, which strips markdown code fences and surrounding prose.
func ExtractJSONArray(reply string) (string, bool) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end < start {
		return "", false
	}
	return reply[start : end+1], true
}

// ParseKeywords decodes keyword records from a reply. It tries the extracted
// array first, then the whole reply (a bare array or {"keywords": [...]}).
// When nothing usable decodes it returns a single record holding the raw
// text with Medium volume and difficulty, and degraded is true.
func ParseKeywords(reply string) (keywords []model.Keyword, degraded bool) {
	if arr, ok := ExtractJSONArray(reply); ok {
		if kws := decodeKeywords(arr); len(kws) > 0 {
			return kws, false
		}
	}
	if kws := decodeKeywords(reply); len(kws) > 0 {
		return kws, false
	}

	raw := strings.TrimSpace(reply)
	if raw == "" {
		raw = PlaceholderKeyword
	}
	return []model.Keyword{{Keyword: raw, Volume: model.VolumeMedium, Difficulty: model.DifficultyMedium}}, true
}

// decodeKeywords 宽松解码：值可以是对象或纯字符串，未知字段忽略，空关键词丢弃。
func decodeKeywords(text string) []model.Keyword {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var entries []interface{}
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		var wrapped struct {
			Keywords []interface{} `json:"keywords"`
		}
		if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
			return nil
		}
		entries = wrapped.Keywords
	}

	keywords := make([]model.Keyword, 0, len(entries))
	for _, entry := range entries {
		var kw model.Keyword
		switch v := entry.(type) {
		case string:
			kw = model.Keyword{Keyword: v}
		case map[string]interface{}:
			kw = model.Keyword{
				Keyword:    stringField(v, "keyword"),
				Volume:     model.Volume(stringField(v, "volume")),
				Difficulty: model.Difficulty(stringField(v, "difficulty")),
			}
		default:
			continue
		}
		kw.Keyword = strings.TrimSpace(kw.Keyword)
		if kw.Keyword == "" {
			continue
		}
		kw.Volume = NormalizeVolume(string(kw.Volume))
		kw.Difficulty = NormalizeDifficulty(string(kw.Difficulty))
		keywords = append(keywords, kw)
	}
	return keywords
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

var volumes = map[string]model.Volume{
	"low":      model.VolumeLow,
	"medium":   model.VolumeMedium,
	"high":     model.VolumeHigh,
	"veryhigh": model.VolumeVeryHigh,
}

var difficulties = map[string]model.Difficulty{
	"easy":   model.DifficultyEasy,
	"low":    model.DifficultyLow,
	"medium": model.DifficultyMedium,
	"hard":   model.DifficultyHard,
	"high":   model.DifficultyHigh,
}

// NormalizeVolume maps a volume label onto the known set, ignoring case and
// spacing. Unknown labels become Medium.
func NormalizeVolume(s string) model.Volume {
	if v, ok := volumes[normalizeKey(s)]; ok {
		return v
	}
	return model.VolumeMedium
}

// NormalizeDifficulty is the difficulty counterpart of NormalizeVolume.
func NormalizeDifficulty(s string) model.Difficulty {
	if d, ok := difficulties[normalizeKey(s)]; ok {
		return d
	}
	return model.DifficultyMedium
}

// FormatKeywords renders keyword records one per line for history.
func FormatKeywords(keywords []model.Keyword) string {
	lines := make([]string, len(keywords))
	for i, k := range keywords {
		lines[i] = fmt.Sprintf("%s (Volume: %s, Difficulty: %s)", k.Keyword, k.Volume, k.Difficulty)
	}
	return strings.Join(lines, "\n")
}
