package utils

import (
	"regexp"
	"strings"
)

var (
	reCodeBlock  = regexp.MustCompile("```[\\s\\S]*?```")
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reBoldStar   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reBoldUnder  = regexp.MustCompile(`__([^_]+)__`)
	reItalicStar = regexp.MustCompile(`\*([^*]+)\*`)
	reItalicUnd  = regexp.MustCompile(`_([^_]+)_`)
	reStrike     = regexp.MustCompile(`~~([^~]+)~~`)
	reImage      = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reQuote      = regexp.MustCompile(`(?m)^>+\s*`)
	reBullet     = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	reOrdered    = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
	reRule       = regexp.MustCompile(`(?m)^\s*[-*_]{3,}\s*$`)
	reHTMLTag    = regexp.MustCompile(`<[^>]+>`)
	reSpaces     = regexp.MustCompile(`\s+`)
)

// CleanForTTS 清理Markdown格式符号，得到适合语音合成的纯文本。
func CleanForTTS(markdownText string) string {
	if strings.TrimSpace(markdownText) == "" {
		return ""
	}

	text := markdownText
	text = reCodeBlock.ReplaceAllString(text, "代码块")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reBoldStar.ReplaceAllString(text, "$1")
	text = reBoldUnder.ReplaceAllString(text, "$1")
	// 加粗已先行移除，单星号、单下划线只剩斜体用法。
	text = reItalicStar.ReplaceAllString(text, "$1")
	text = reItalicUnd.ReplaceAllString(text, "$1")
	text = reStrike.ReplaceAllString(text, "$1")
	text = reImage.ReplaceAllString(text, "图片")
	text = reLink.ReplaceAllString(text, "$1")
	text = reHeading.ReplaceAllString(text, "")
	text = reQuote.ReplaceAllString(text, "")
	text = reBullet.ReplaceAllString(text, "")
	text = reOrdered.ReplaceAllString(text, "")
	text = reRule.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "|", " ")
	text = reHTMLTag.ReplaceAllString(text, "")
	text = reSpaces.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if text == "" {
		return "内容无法转换为语音"
	}
	return text
}
