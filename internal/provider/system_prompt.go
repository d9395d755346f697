package provider

import (
	"regexp"
	"strings"
)

var (
	functionCallingBlocks = []*regexp.Regexp{
		regexp.MustCompile(`(?s)<tools>.*?</tools>`),
		regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`),
		regexp.MustCompile(`(?s)<tool_code>.*?</tool_code>`),
	}
	excessBlankLines = regexp.MustCompile(`\n{3,}`)
)

func collapseBlankLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(excessBlankLines.ReplaceAllString(s, "\n\n"))
}

// stripFunctionCallingMarkup removes inline tool-calling markup that
// providers with native function calling cannot parse.
func stripFunctionCallingMarkup(s string) string {
	for _, re := range functionCallingBlocks {
		s = re.ReplaceAllString(s, "")
	}
	return collapseBlankLines(s)
}
