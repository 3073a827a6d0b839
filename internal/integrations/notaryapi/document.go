package notaryapi

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"notary-chat/internal/domain"
)

// ParseDocument extracts a title and a plain-text rendering from the contract
// HTML fragment. The fragment itself is returned untouched.
func ParseDocument(remoteID int64, html string) (domain.ContractDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.ContractDocument{}, fmt.Errorf("notaryapi: parse document: %w", err)
	}
	doc.Find("script, style").Remove()

	title := collapseSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = collapseSpace(doc.Find("title").First().Text())
	}

	var lines []string
	doc.Find("h1, h2, h3, h4, p, li, td").Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are rendered by their innermost element.
		if s.Find("p, li").Length() > 0 {
			return
		}
		if line := collapseSpace(s.Text()); line != "" {
			lines = append(lines, line)
		}
	})
	text := strings.Join(lines, "\n")
	if text == "" {
		text = collapseSpace(doc.Text())
	}

	return domain.ContractDocument{
		RemoteID: remoteID,
		HTML:     html,
		Title:    title,
		Text:     text,
	}, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
