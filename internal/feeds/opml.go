package feeds

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"podscribe/internal/textutil"
)

// Subscription is one feed listed in the OPML file.
type Subscription struct {
	// Name is the sanitized directory name used throughout the archive.
	Name  string
	Title string
	URL   string
}

type opmlDocument struct {
	Body struct {
		Outlines []opmlOutline `xml:"outline"`
	} `xml:"body"`
}

type opmlOutline struct {
	Type     string        `xml:"type,attr"`
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	Outlines []opmlOutline `xml:"outline"`
}

// ParseOPML extracts feed subscriptions from an OPML document, including
// nested outline groups. Outlines without a feed URL are skipped; a repeated
// name keeps its first URL.
func ParseOPML(r io.Reader) ([]Subscription, error) {
	var doc opmlDocument
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse opml: %w", err)
	}
	var subs []Subscription
	seen := make(map[string]struct{})
	var walk func([]opmlOutline)
	walk = func(outlines []opmlOutline) {
		for _, o := range outlines {
			if url := strings.TrimSpace(o.XMLURL); url != "" && (o.Type == "" || strings.EqualFold(o.Type, "rss")) {
				title := strings.TrimSpace(o.Text)
				if title == "" {
					title = strings.TrimSpace(o.Title)
				}
				name := textutil.SanitizeFileName(title)
				if _, dup := seen[name]; !dup && title != "" {
					seen[name] = struct{}{}
					subs = append(subs, Subscription{Name: name, Title: title, URL: url})
				}
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return subs, nil
}

// LoadOPML reads subscriptions from path.
func LoadOPML(path string) ([]Subscription, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseOPML(f)
}
