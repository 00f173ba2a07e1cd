package generation

import (
	"fmt"
	"strings"

	"marketai-go/internal/model"
)

const (
	HeaderCaptions     = "CAPTIONS"
	CaptionCount       = 3
	PlaceholderCaption = "Generated caption"

	// CaptionSeparator 连接多条 caption 形成纯文本结果。
	CaptionSeparator = "\n\n---\n\n"
)

// SocialSystemPrompt 生成社交媒体文案工具的 system 指令。
func SocialSystemPrompt(tone model.Tone) string {
	return fmt.Sprintf(`You are a social media copywriter. Write engaging captions for the product, service or content described by the user.

Tone: %s (%s)

Generate exactly %d captions. Each caption should:
- Open with a hook
- Fit naturally on Instagram, Facebook or LinkedIn
- End with a call to action and a few relevant hashtags

Format your response exactly like this:
%s:
1. [Caption 1]
2. [Caption 2]
3. [Caption 3]`,
		tone, tone.Description(), CaptionCount, HeaderCaptions)
}

// SocialUserPrompt 用户消息就是描述本身。
func SocialUserPrompt(description string) string {
	return strings.TrimSpace(description)
}

// ParseCaptions extracts the numbered captions. A reply without a CAPTIONS
// header is split as one bare section and reported as degraded.
func ParseCaptions(reply string) (captions []string, degraded bool) {
	section, found := ExtractSection(reply, HeaderCaptions)
	if !found {
		section = reply
	}
	captions, degraded = withFallback(SplitNumbered(section), PlaceholderCaption)
	return captions, degraded || !found
}

// FormatCaptions joins captions into the plain text stored in history.
func FormatCaptions(captions []string) string {
	return strings.Join(captions, CaptionSeparator)
}
