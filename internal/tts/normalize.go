package tts

import (
	"strings"
)

var rigidLabels = []string{
	"position:",
	"key argument:",
	"concern:",
	"my vote:",
	"shifted?:",
	"remember this:",
}

var spacingFixer = strings.NewReplacer(" .", ".", " ,", ",", " ;", ";", " :", ":")

// SpokenText flattens model output into plain conversational prose: markdown
// headings, list markers, emphasis and the rigid round labels are removed
// and lines are joined. When nothing survives the trimmed input is returned.
func SpokenText(text string) string {
	var parts []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		for strings.HasPrefix(line, "#") {
			line = strings.TrimLeft(strings.TrimPrefix(line, "#"), " \t")
		}

		for _, marker := range []string{"- ", "* ", "• "} {
			if rest, ok := strings.CutPrefix(line, marker); ok {
				line = strings.TrimLeft(rest, " \t")
				break
			}
		}

		if dot := strings.Index(line, ". "); dot > 0 && allDigits(line[:dot]) {
			line = strings.TrimLeft(line[dot+2:], " \t")
		}

		cleaned := strings.NewReplacer("**", "", "__", "", "`", "").Replace(line)

		lower := strings.ToLower(cleaned)
		for _, label := range rigidLabels {
			if strings.HasPrefix(lower, label) {
				cleaned = strings.TrimSpace(cleaned[len(label):])
				break
			}
		}

		if cleaned != "" {
			parts = append(parts, cleaned)
		}
	}

	compact := spacingFixer.Replace(strings.Join(strings.Fields(strings.Join(parts, " ")), " "))
	if compact == "" {
		return strings.TrimSpace(text)
	}
	return compact
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
