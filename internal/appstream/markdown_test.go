package appstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkdownFromDescription(t *testing.T) {
	root, err := ParseNode([]byte(`<description>
		<p>Fixes a boot hang on some models.</p>
		<ul>
			<li>Improve thermal response</li>
			<li>Update microcode</li>
		</ul>
	</description>`))
	require.NoError(t, err)

	md, err := MarkdownFromDescription(root)
	require.NoError(t, err)
	require.Equal(t, "Fixes a boot hang on some models.\n\n"+
		" * Improve thermal response\n"+
		" * Update microcode", md)
}

func TestMarkdownFromDescriptionWrappedText(t *testing.T) {
	root, err := ParseNode([]byte("<description><p>Some text\n    wrapped over\n    lines.</p></description>"))
	require.NoError(t, err)

	md, err := MarkdownFromDescription(root)
	require.NoError(t, err)
	require.Equal(t, "Some text wrapped over lines.", md)
}

func TestMarkdownFromDescriptionNestedRejected(t *testing.T) {
	root, err := ParseNode([]byte("<description><p>top <b>bold</b></p></description>"))
	require.NoError(t, err)
	_, err = MarkdownFromDescription(root)
	require.Error(t, err)

	root, err = ParseNode([]byte("<description><ul><li><ul><li>deep</li></ul></li></ul></description>"))
	require.NoError(t, err)
	_, err = MarkdownFromDescription(root)
	require.Error(t, err)

	root, err = ParseNode([]byte("<description><blockquote>quoted</blockquote></description>"))
	require.NoError(t, err)
	_, err = MarkdownFromDescription(root)
	require.Error(t, err)
}

func TestDescriptionFromMarkdown(t *testing.T) {
	root := DescriptionFromMarkdown("First paragraph.\n\n- one\n- two\n\nSecond paragraph.")
	require.NotNil(t, root)
	require.Len(t, root.Children, 3)
	require.Equal(t, "p", root.Children[0].Tag)
	require.Equal(t, "First paragraph.", root.Children[0].Text)
	require.Equal(t, "ul", root.Children[1].Tag)
	require.Len(t, root.Children[1].Children, 2)
	require.Equal(t, "one", root.Children[1].Children[0].Text)
	require.Equal(t, "p", root.Children[2].Tag)
}

func TestDescriptionFromMarkdownOrderedMarkers(t *testing.T) {
	root := DescriptionFromMarkdown("1. first\n2. second\n12. twelfth")
	require.Len(t, root.Children, 1)
	ul := root.Children[0]
	require.Equal(t, "ul", ul.Tag)
	require.Len(t, ul.Children, 3)
	require.Equal(t, "first", ul.Children[0].Text)
	require.Equal(t, "twelfth", ul.Children[2].Text)
}

func TestDescriptionFromMarkdownEmpty(t *testing.T) {
	require.Nil(t, DescriptionFromMarkdown(""))
}

func TestMarkdownRoundTrip(t *testing.T) {
	for _, md := range []string{
		"Just one paragraph.",
		"Para one.\n\nPara two.",
		" * item one\n * item two",
		"Intro text here.\n\n * fix alpha\n * fix beta\n\nOutro text here.",
	} {
		root := DescriptionFromMarkdown(md)
		got, err := MarkdownFromDescription(root)
		require.NoError(t, err)
		require.Equal(t, md, got)
	}
}
