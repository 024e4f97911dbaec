// Package language recognizes in-band requests to change the reply language
// and knows the canned confirmation for each supported language.
package language

import (
	"regexp"
	"strings"
)

// Tag is an ISO-like language tag stored on conversation records.
type Tag string

const (
	Chinese  Tag = "zh-CN"
	English  Tag = "en-US"
	Japanese Tag = "ja-JP"
	Korean   Tag = "ko-KR"
	French   Tag = "fr-FR"
	German   Tag = "de-DE"
	Spanish  Tag = "es-ES"
)

// Default is the baseline language used when a conversation has no tag yet.
const Default = Chinese

// Supported lists every tag the detector can produce.
var Supported = []Tag{Chinese, English, Japanese, Korean, French, German, Spanish}

type info struct {
	confirmation string
	// promptName is how the reply-language instruction names the language.
	promptName string
}

var languages = map[Tag]info{
	Chinese:  {confirmation: "好的，我们将开始用中文对话。", promptName: "Chinese"},
	English:  {confirmation: "Okay, I will respond in English from now on.", promptName: "English"},
	Japanese: {confirmation: "わかりました。これからは日本語で回答します。", promptName: "Japanese"},
	Korean:   {confirmation: "알겠습니다. 이제부터 한국어로 대답하겠습니다.", promptName: "Korean"},
	French:   {confirmation: "D'accord, je vais répondre en français à partir de maintenant.", promptName: "French"},
	German:   {confirmation: "Verstanden, ich werde ab jetzt auf Deutsch antworten.", promptName: "German"},
	Spanish:  {confirmation: "Entendido, responderé en español a partir de ahora.", promptName: "Spanish"},
}

// names maps every recognized spelling (lower-cased) to its tag.
var names = map[string]Tag{
	"中文": Chinese, "汉语": Chinese, "chinese": Chinese,
	"英语": English, "英文": English, "english": English,
	"日语": Japanese, "日文": Japanese, "japanese": Japanese,
	"韩语": Korean, "韩文": Korean, "korean": Korean,
	"法语": French, "法文": French, "french": French,
	"德语": German, "德文": German, "german": German,
	"西班牙语": Spanish, "spanish": Spanish,
}

// Both patterns must cover the whole message, so a language name that merely
// appears inside an ordinary sentence is not a switch request.
var (
	chinesePattern = regexp.MustCompile(
		`^\s*(?:我们以后用|以后用|让我们用|我们用|改用|请用)\s*(中文|汉语|英语|英文|日语|日文|韩语|韩文|法语|法文|德语|德文|西班牙语)\s*(?:对话|交流|聊天|回答|回复)?\s*(?:吧)?\s*[。！!.？?]*\s*$`)
	englishPattern = regexp.MustCompile(
		`(?i)^\s*(?:(?:please|can\s+we|could\s+we|can\s+you|could\s+you)\s+)?(?:switch\s+to|use|speak\s+in|talk\s+in|let'?s\s+(?:talk|speak|chat)\s+in)\s+(chinese|english|japanese|korean|french|german|spanish)(?:\s+from\s+now\s+on)?(?:\s*,?\s*please)?\s*[.!?]*\s*$`)
)
)

// Detect reports the language a message asks to switch to, if any.
func Detect(message string) (Tag, bool) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", false
	}

	for _, pattern := range []*regexp.Regexp{chinesePattern, englishPattern} {
		if m := pattern.FindStringSubmatch(message); m != nil {
			if tag, ok := names[strings.ToLower(m[1])]; ok {
				return tag, true
			}
		}
	}
	return "", false
}

// Confirmation returns the fixed sentence acknowledging a switch to tag,
// falling back to the default language's sentence.
func Confirmation(tag Tag) string {
	if l, ok := languages[tag]; ok {
		return l.confirmation
	}
	return languages[Default].confirmation
}

// PromptName returns the English name of the language for prompt instructions.
func PromptName(tag Tag) string {
	if l, ok := languages[tag]; ok {
		return l.promptName
	}
	return languages[Default].promptName
}

// Parse validates a stored tag string.
func Parse(s string) (Tag, bool) {
	tag := Tag(s)
	_, ok := languages[tag]
	return tag, ok
}
