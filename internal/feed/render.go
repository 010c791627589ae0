package feed

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// --- RSS 2.0 ---

type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel Channel  `xml:"channel"`
}

type Channel struct {
	Title         string `xml:"title"`
	Link          string `xml:"link"`
	Description   string `xml:"description"`
	LastBuildDate string `xml:"lastBuildDate,omitempty"`
	Items         []Item `xml:"item"`
}

type Item struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	Categories  []string `xml:"category"`
	GUID        GUID     `xml:"guid"`
	PubDate     string   `xml:"pubDate"`
}

type GUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

func newRSS(ch Channel) *RSS {
	return &RSS{Version: "2.0", Channel: ch}
}

func newItem(e Entry) Item {
	item := Item{
		Title:       e.Title,
		Link:        e.URL,
		Description: e.Description(),
		GUID:        GUID{Value: e.GUID()},
		PubDate:     formatDate(e.LastModified),
	}
	if len(e.Category) > 0 {
		item.Categories = []string{e.Category.String()}
	}
	return item
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC1123Z)
}

// --- OPML 2.0 ---

type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

type Head struct {
	Title string `xml:"title,omitempty"`
}

type Body struct {
	Outlines []*Outline `xml:"outline"`
}

type Outline struct {
	Text     string     `xml:"text,attr"`
	Title    string     `xml:"title,attr,omitempty"`
	Type     string     `xml:"type,attr,omitempty"`
	XMLURL   string     `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string     `xml:"htmlUrl,attr,omitempty"`
	Outlines []*Outline `xml:"outline"`
}

// Write encodes doc as an indented XML document.
func Write(w io.Writer, doc any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode feed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode feed: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}
