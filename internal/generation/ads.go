package generation

import (
	"fmt"
	"strings"

	"marketai-go/internal/model"
)

const (
	HeaderHeadlines    = "HEADLINES"
	HeaderDescriptions = "DESCRIPTIONS"

	PlaceholderHeadline    = "Generated headline"
	PlaceholderDescription = "Generated description"

	// 广告平台的字符上限，只写进提示词，不在解析时截断。
	MaxHeadlineChars    = 30
	MaxDescriptionChars = 90
)

// AdsSystemPrompt 生成广告文案工具的 system 指令。
func AdsSystemPrompt(tone model.Tone) string {
	return fmt.Sprintf(`You are a Google Ads copywriting expert. Generate compelling Google Ads copy based on the product/service description and target audience.

Tone: %s (%s)

Generate exactly:
- 3 Headlines (max %d characters each)
- 2 Descriptions (max %d characters each)

Format your response exactly like this:
%s:
1. [Headline 1]
2. [Headline 2]
3. [Headline 3]

%s:
1. [Description 1]
2. [Description 2]

Make sure each headline and description:
- Is compelling and action-oriented
- Includes a clear value proposition
- Matches the requested tone
- Stays within character limits`,
		tone, tone.Description(), MaxHeadlineChars, MaxDescriptionChars, HeaderHeadlines, HeaderDescriptions)
}

// AdsUserPrompt 拼接用户消息；targetAudience 为空时省略该行。
func AdsUserPrompt(productDescription, targetAudience string) string {
	msg := "Product/Service: " + strings.TrimSpace(productDescription)
	if audience := strings.TrimSpace(targetAudience); audience != "" {
		msg += "\n\nTarget Audience: " + audience
	}
	return msg
}

// ParseAdCopy extracts headlines and descriptions from a reply. degraded is
// true when either list had to be filled with its placeholder.
func ParseAdCopy(reply string) (ad model.AdCopy, degraded bool) {
	headSection, _ := ExtractSection(reply, HeaderHeadlines, HeaderDescriptions)
	descSection, _ := ExtractSection(reply, HeaderDescriptions, HeaderHeadlines)

	headlines, hd := withFallback(SplitNumbered(headSection), PlaceholderHeadline)
	descriptions, dd := withFallback(SplitNumbered(descSection), PlaceholderDescription)
	return model.AdCopy{Headlines: headlines, Descriptions: descriptions}, hd || dd
}

// FormatAdCopy renders ad copy as the plain text stored in history.
func FormatAdCopy(c model.AdCopy) string {
	return HeaderHeadlines + ":\n" + strings.Join(c.Headlines, "\n") +
		"\n\n" + HeaderDescriptions + ":\n" + strings.Join(c.Descriptions, "\n\n")
}
