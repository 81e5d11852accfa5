package fetcher

import "regexp"

// urlPattern matches http(s) URLs and bare domains with a path, the
// same shapes record text tends to carry.
var urlPattern = regexp.MustCompile(`https?://[^\s()<>\[\]{}"']+[^\s()<>\[\]{}"'.,;:!?]`)

// ExtractLinks pulls external URLs out of free-form record text.
func ExtractLinks(text string) []string {
	if text == "" {
		return nil
	}
	return urlPattern.FindAllString(text, -1)
}
