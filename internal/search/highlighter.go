package search

import "github.com/hyperjump/jinzai/pkg/utils"

// Highlight shortens segment text for display, cutting at maxLen characters and adding "...".
func Highlight(content string, maxLen int) string {
	return utils.Truncate(content, maxLen)
}
