package detect

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Call is a structured function invocation recovered from free-form model
// text. Calls are transient: they live only within a single engine pass.
type Call struct {
	Name       string
	Args       map[string]string
	Confidence float64
}

// recognizer owns one matching rule and one extraction rule. The table is
// evaluated in order and each recognizer consumes the text it matched, so
// detection order is recognizer order, not textual order.
type recognizer struct {
	name    string
	extract func(text string) ([]Call, string)
}

var recognizers = []recognizer{
	{name: "tool_envelope", extract: extractEnvelopeCalls},
	{name: "inline_pairs", extract: extractInlineCalls},
}

// argKeyAliases maps the short argument keys models tend to emit onto the
// canonical names capabilities expect.
var argKeyAliases = map[string]string{
	"path":      "filePath",
	"file_path": "filePath",
	"filepath":  "filePath",
	"file":      "fileName",
	"filename":  "fileName",
	"file_name": "fileName",
}

var (
	envelopePattern   = regexp.MustCompile(`(?s)\[TOOL:([A-Za-z][A-Za-z0-9_-]*)\]\s*(\{.*?\})\s*\[/TOOL\]`)
	inlineHeadPattern = regexp.MustCompile(`(?m)^([a-z][a-z0-9_]*)((?:[ \t]+[A-Za-z_][A-Za-z0-9_]*=\S*)+)[ \t]*$`)
	argPairPattern    = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)=(\S*)`)
	fencedPattern     = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*[ \t]*\r?\n(.*?)\r?\n?```\\s*$")
)

// Detect scans raw model output for recognizable tool invocations. It is a
// pure function: identical input always yields identical output. Calls with
// an empty argument map are discarded.
func Detect(text string) []Call {
	calls := []Call{}
	working := text
	for _, rec := range recognizers {
		var found []Call
		found, working = rec.extract(working)
		calls = append(calls, found...)
	}
	return calls
}

// extractEnvelopeCalls handles the explicit bracketed envelope shape:
// [TOOL:name]{"arg":"value"}[/TOOL].
func extractEnvelopeCalls(text string) ([]Call, string) {
	matches := envelopePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, text
	}

	calls := make([]Call, 0, len(matches))
	masked := []byte(text)
	for _, match := range matches {
		name := text[match[2]:match[3]]
		rawArgs := text[match[4]:match[5]]

		decoded := map[string]any{}
		if err := json.Unmarshal([]byte(rawArgs), &decoded); err != nil {
			continue
		}
		args := make(map[string]string, len(decoded))
		for key, value := range decoded {
			args[normalizeArgKey(key)] = stringifyArgValue(value)
		}
		if len(args) == 0 {
			continue
		}

		calls = append(calls, Call{Name: name, Args: args, Confidence: 0.95})
		blankRegion(masked, match[0], match[1])
	}
	return calls, string(masked)
}

// extractInlineCalls handles "name key=value key=value" heads. The final
// value may continue as a multi-line body on the following lines, terminated
// by the next recognized head or end of text; a body wrapped in a fenced
// block is unwrapped before use.
func extractInlineCalls(text string) ([]Call, string) {
	heads := inlineHeadPattern.FindAllStringSubmatchIndex(text, -1)
	if len(heads) == 0 {
		return nil, text
	}

	calls := make([]Call, 0, len(heads))
	masked := []byte(text)
	for index, head := range heads {
		name := text[head[2]:head[3]]
		pairSegment := text[head[4]:head[5]]

		bodyEnd := len(text)
		if index+1 < len(heads) {
			bodyEnd = heads[index+1][0]
		}
		body := strings.Trim(text[head[1]:bodyEnd], "\r\n")
		if strings.TrimSpace(body) == "" {
			body = ""
		}

		keys, values := parseArgPairs(pairSegment)
		if len(keys) == 0 {
			continue
		}
		if body != "" {
			last := len(values) - 1
			if values[last] == "" {
				values[last] = body
			} else {
				values[last] = values[last] + "\n" + body
			}
		}

		args := make(map[string]string, len(keys))
		for position, key := range keys {
			args[normalizeArgKey(key)] = unwrapFence(values[position])
		}
		if len(args) == 0 {
			continue
		}

		calls = append(calls, Call{Name: name, Args: args, Confidence: 0.8})
		blankRegion(masked, head[0], bodyEnd)
	}
	return calls, string(masked)
}

func parseArgPairs(segment string) ([]string, []string) {
	matches := argPairPattern.FindAllStringSubmatch(segment, -1)
	keys := make([]string, 0, len(matches))
	values := make([]string, 0, len(matches))
	for _, match := range matches {
		keys = append(keys, match[1])
		values = append(values, match[2])
	}
	return keys, values
}

func normalizeArgKey(key string) string {
	if canonical, ok := argKeyAliases[strings.ToLower(key)]; ok {
		return canonical
	}
	return key
}

// unwrapFence strips a surrounding ```lang fenced block from a payload.
func unwrapFence(value string) string {
	match := fencedPattern.FindStringSubmatch(value)
	if match == nil {
		return value
	}
	return match[1]
}

func stringifyArgValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}
		return fmt.Sprintf("%v", typed)
	case bool:
		return fmt.Sprintf("%t", typed)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}
		return string(raw)
	}
}

func blankRegion(buf []byte, start, end int) {
	for index := start; index < end && index < len(buf); index++ {
		if buf[index] != '\n' {
			buf[index] = ' '
		}
	}
}
