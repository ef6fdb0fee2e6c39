package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// jsonEndpointSuffix is the path suffix of the timetable JSON endpoint; the
// program page lives at the same path without it.
const jsonEndpointSuffix = "/@@orario_reale_json"

// Option is a value/label pair offered by the program page.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// PageURL returns the HTML page URL for a timetable URL, without query.
func PageURL(timetableURL string) (string, error) {
	u, err := url.Parse(timetableURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: invalid url", ErrSetup)
	}
	u.Path = strings.TrimSuffix(u.Path, jsonEndpointSuffix)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Years reads the year options from the program page's anno <select>.
// Page requests bypass the disk cache.
func (c *Client) Years(ctx context.Context, timetableURL string) ([]Option, error) {
	page, err := PageURL(timetableURL)
	if err != nil {
		return nil, err
	}
	res, err := c.FetchUncached(ctx, page)
	if err != nil {
		return nil, err
	}
	return ParseYearOptions(res.Body)
}

// Curricula lists the curricula offered for a given year.
func (c *Client) Curricula(ctx context.Context, timetableURL string, year int) ([]Option, error) {
	page, err := PageURL(timetableURL)
	if err != nil {
		return nil, err
	}
	res, err := c.FetchUncached(ctx, page+"/@@available_curricula?anno="+strconv.Itoa(year))
	if err != nil {
		return nil, err
	}

	var opts []Option
	if err := json.Unmarshal(res.Body, &opts); err != nil {
		return nil, fmt.Errorf("decode curricula: %w", err)
	}
	for i := range opts {
		if opts[i].Label == "" {
			opts[i].Label = opts[i].Value
		}
	}
	return opts, nil
}

// ParseYearOptions extracts the <option>s of the first <select name="anno">.
func ParseYearOptions(page []byte) ([]Option, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse program page: %w", err)
	}

	sel := findElement(doc, func(n *html.Node) bool {
		return n.Data == "select" && attr(n, "name") == "anno"
	})
	if sel == nil {
		return []Option{}, nil
	}

	opts := make([]Option, 0)
	for n := sel.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != html.ElementNode || n.Data != "option" {
			continue
		}
		opts = append(opts, Option{
			Value: attr(n, "value"),
			Label: strings.TrimSpace(textContent(n)),
		})
	}
	return opts, nil
}

func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
