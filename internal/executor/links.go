package executor

import (
	"strings"

	"golang.org/x/net/html"
)

// unsubscribeMarkers flag links that must never be clicked: anything that
// could silently remove the pool account from the sender's list.
var unsubscribeMarkers = []string{
	"unsubscribe",
	"opt-out",
	"opt_out",
	"optout",
	"remove",
	"manage-preferences",
	"preferences",
}

// ExtractLinks returns every http(s) anchor href in an HTML body, in
// document order.
func ExtractLinks(body string) []string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				lower := strings.ToLower(href)
				if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
					links = append(links, href)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return links
}

// FilterSafeLinks drops any link containing an unsubscribe marker,
// case-insensitive.
func FilterSafeLinks(links []string) []string {
	safe := make([]string, 0, len(links))
	for _, link := range links {
		lower := strings.ToLower(link)
		flagged := false
		for _, marker := range unsubscribeMarkers {
			if strings.Contains(lower, marker) {
				flagged = true
				break
			}
		}
		if !flagged {
			safe = append(safe, link)
		}
	}
	return safe
}
