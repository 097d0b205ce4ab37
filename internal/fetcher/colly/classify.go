package collyfetcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/urlfetch/internal/pipeline"
)

const (
	mediaTypeJSON = "application/json"
	mediaTypeHTML = "text/html"
)

// Classify turns a fetched response into an Outcome. Only status 200 responses
// with a JSON or HTML content type succeed.
func Classify(url string, statusCode int, contentType string, body []byte) pipeline.Outcome {
	var out pipeline.Outcome
	lowered := strings.ToLower(contentType)
	switch {
	case statusCode != http.StatusOK:
		out = pipeline.Skipped(url, fmt.Sprintf("status code %d", statusCode))
	case strings.Contains(lowered, mediaTypeJSON):
		payload, err := decodeJSON(body)
		if err != nil {
			out = pipeline.Failed(url, fmt.Errorf("decode json: %w", err))
			break
		}
		out = pipeline.Success(url, pipeline.KindJSON, payload)
	case strings.Contains(lowered, mediaTypeHTML):
		title, err := extractTitle(body)
		if err != nil {
			out = pipeline.Failed(url, fmt.Errorf("parse html: %w", err))
			break
		}
		out = pipeline.Success(url, pipeline.KindHTML, pipeline.HTMLContent{Title: title})
	default:
		out = pipeline.Skipped(url, fmt.Sprintf("unsupported content type %q", contentType))
	}
	out.StatusCode = statusCode
	return out
}

// decodeJSON decodes exactly one JSON value into a generic tree. Numbers are
// kept as json.Number so they are re-encoded without loss. A blank body
// decodes to nil.
func decodeJSON(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

// extractTitle returns the text of the first <title> element, or NoTitle.
func extractTitle(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	title := doc.Find("title").First()
	if title.Length() == 0 {
		return pipeline.NoTitle, nil
	}
	return title.Text(), nil
}
