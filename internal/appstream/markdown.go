package appstream

import (
	"fmt"
	"strings"
)

// MarkdownFromDescription converts a <description> node tree to the
// Markdown subset used for update descriptions: paragraphs and flat
// lists only. Nested children raise an error rather than being
// flattened incorrectly.
func MarkdownFromDescription(root *Node) (string, error) {
	var sb strings.Builder
	for _, n := range root.Children {
		switch n.Tag {
		case "p":
			if len(n.Children) > 0 {
				return "", fmt.Errorf("invalid XML, found child of %s", n.Tag)
			}
			if n.Text != "" {
				sb.WriteString(unwrapText(n.Text))
				sb.WriteString("\n\n")
			}
		case "ul", "ol":
			for _, c := range n.Children {
				if c.Tag != "li" {
					return "", fmt.Errorf("invalid XML, got %s", c.Tag)
				}
				if len(c.Children) > 0 {
					return "", fmt.Errorf("invalid XML, found child of %s", c.Tag)
				}
				if c.Text != "" {
					sb.WriteString(" * ")
					sb.WriteString(unwrapText(c.Text))
					sb.WriteString("\n")
				}
			}
			sb.WriteString("\n")
		default:
			return "", fmt.Errorf("invalid XML, got %s", n.Tag)
		}
	}
	return strings.Trim(sb.String(), " \n"), nil
}

// markdownListMarker returns the marker width if the line starts a list
// item, or 0. Single and double-digit ordered markers differ in width.
func markdownListMarker(line string) int {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
		return 2
	}
	if strings.HasPrefix(line, " - ") || strings.HasPrefix(line, " * ") {
		return 3
	}
	if len(line) > 2 && isDigit(line[0]) && line[1] == '.' {
		return 2
	}
	if len(line) > 3 && isDigit(line[0]) && isDigit(line[1]) && line[2] == '.' {
		return 3
	}
	return 0
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// DescriptionFromMarkdown builds a <description> node tree from Markdown
// text. Consecutive list items collapse into one <ul>; everything else
// becomes a paragraph. Returns nil for empty input.
func DescriptionFromMarkdown(markdown string) *Node {
	if markdown == "" {
		return nil
	}
	root := NewNode("description")
	var ul *Node
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if sz := markdownListMarker(line); sz > 0 {
			if ul == nil {
				ul = root.Add(NewNode("ul"))
			}
			ul.AddText("li", strings.TrimSpace(line[sz:]))
		} else {
			ul = nil
			root.AddText("p", line)
		}
	}
	return root
}
