// Package program reads the program metadata embedded in a live program page.
package program

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/net/html"
)

// ErrNotFound means the page did not carry usable embedded program data.
var ErrNotFound = errors.New("program: program info not found")

const (
	embeddedDataID = "embedded-data"
	propsAttr      = "data-props"
	statusEnded    = "ENDED"

	maxPageSize = 8 << 20
)

// Info is the subset of the embedded page data the client needs.
type Info struct {
	Site    Site    `json:"site"`
	Program Program `json:"program"`
}

type Site struct {
	Relive Relive `json:"relive"`
}

type Relive struct {
	WebSocketURL string `json:"webSocketUrl"`
}

type Program struct {
	Title             string `json:"title"`
	NicoliveProgramID string `json:"nicoliveProgramId"`
	Status            string `json:"status"`
}

// Ended reports whether the program has already finished.
func (i *Info) Ended() bool {
	return i.Program.Status == statusEnded
}

// Fetch downloads pageURL and extracts its embedded program data.
func Fetch(ctx context.Context, client *http.Client, pageURL string) (*Info, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch program page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch program page: status=%d", resp.StatusCode)
	}

	return Parse(io.LimitReader(resp.Body, maxPageSize))
}

// Parse extracts the program data from an HTML document.
func Parse(r io.Reader) (*Info, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse program page: %w", err)
	}

	node := findByID(doc, embeddedDataID)
	if node == nil {
		return nil, fmt.Errorf("%w: no #%s element", ErrNotFound, embeddedDataID)
	}

	props, ok := attr(node, propsAttr)
	if !ok {
		return nil, fmt.Errorf("%w: #%s has no %s", ErrNotFound, embeddedDataID, propsAttr)
	}

	var info Info
	if err := json.Unmarshal([]byte(props), &info); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrNotFound, propsAttr, err)
	}
	if info.Site.Relive.WebSocketURL == "" {
		return nil, fmt.Errorf("%w: empty site.relive.webSocketUrl", ErrNotFound)
	}
	return &info, nil
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		if v, ok := attr(n, "id"); ok && v == id {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
