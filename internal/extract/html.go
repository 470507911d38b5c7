/*
Package extract turns trade-alert email HTML into typed trade events.
*/
package extract

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// orderMarker is the literal that identifies the order details block.
const orderMarker = "Bot:"

// containerDepth is how far above the marker element the order details
// container sits in the bot's email template. It is fixed by the upstream
// template, not discovered.
const containerDepth = 2

var nbspReplacer = strings.NewReplacer("\u00a0", " ")

// OrderText finds the first element whose own text contains "Bot:", climbs to
// its grandparent and returns all text beneath it in document order.
func OrderText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	marker := findMarkerElement(doc)
	if marker == nil {
		return "", fmt.Errorf("%w: no element contains %q", ErrStructure, orderMarker)
	}

	container := marker
	for i := 0; i < containerDepth; i++ {
		container = container.Parent
		if container == nil || container.Type == html.DocumentNode {
			return "", fmt.Errorf("%w: %q element has fewer than %d ancestors", ErrStructure, orderMarker, containerDepth)
		}
	}

	return nbspReplacer.Replace(extractText(container)), nil
}

func findMarkerElement(doc *html.Node) *html.Node {
	var found *html.Node
	var f func(*html.Node)

	f = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && strings.Contains(ownText(n), orderMarker) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}

	f(doc)
	return found
}

// ownText joins only the direct text children of n.
func ownText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func extractText(n *html.Node) string {
	var extract func(*html.Node) string

	extract = func(n *html.Node) string {
		if n.Type == html.TextNode {
			return n.Data
		}
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			sb.WriteString(extract(c))
		}
		return sb.String()
	}

	return extract(n)
}
