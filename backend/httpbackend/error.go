// httpbackend/error.go
package httpbackend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/antchfx/xmlquery"
	"golang.org/x/net/html"
)

// maxErrorBody bounds how much of an error response body is read.
const maxErrorBody = 64 << 10

// APIError represents a non-success response from the backend.
type APIError struct {
	StatusCode  int      `json:"status_code"`
	Method      string   `json:"method"`
	URL         string   `json:"url"`
	Message     string   `json:"message"`
	Details     []string `json:"details,omitempty"`
	RawResponse string   `json:"raw_response,omitempty"`
}

// Error returns a string representation of the APIError, making it compatible with the error interface.
func (e *APIError) Error() string {
	message := e.Message
	if message == "" {
		message = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("API Error: StatusCode=%d, Method=%s, URL=%s, Message=%s", e.StatusCode, e.Method, e.URL, message)
}

// HandleAPIErrorResponse builds an APIError from an error response, extracting a message from
// JSON, XML, HTML or plain text bodies.
func HandleAPIErrorResponse(resp *http.Response) *APIError {
	apiError := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}
	if resp.Request != nil {
		apiError.Method = resp.Request.Method
		apiError.URL = resp.Request.URL.String()
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		apiError.RawResponse = "Failed to read response body"
		return apiError
	}
	if len(bodyBytes) == 0 {
		return apiError
	}

	mimeType, _ := parseHeader(resp.Header.Get("Content-Type"))
	switch mimeType {
	case "application/json", "application/problem+json":
		parseJSONResponse(bodyBytes, apiError)
	case "application/xml", "text/xml":
		parseXMLResponse(bodyBytes, apiError)
	case "text/html":
		parseHTMLResponse(bodyBytes, apiError)
	case "text/plain":
		parseTextResponse(bodyBytes, apiError)
	default:
		apiError.RawResponse = string(bodyBytes)
	}

	return apiError
}

// parseJSONResponse reads the common message fields of a JSON error body.
func parseJSONResponse(bodyBytes []byte, apiError *APIError) {
	apiError.RawResponse = string(bodyBytes)

	var body struct {
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
		Error   json.RawMessage `json:"error"`
		Details []string        `json:"details"`
	}
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return
	}

	// "error" is either a string or an object with its own message.
	var nested struct {
		Message string `json:"message"`
	}
	var errString string
	switch {
	case body.Message != "":
		apiError.Message = body.Message
	case json.Unmarshal(body.Error, &errString) == nil && errString != "":
		apiError.Message = errString
	case json.Unmarshal(body.Error, &nested) == nil && nested.Message != "":
		apiError.Message = nested.Message
	case body.Detail != "":
		apiError.Message = body.Detail
	}

	apiError.Details = body.Details
	if body.Detail != "" && body.Detail != apiError.Message {
		apiError.Details = append(apiError.Details, body.Detail)
	}
}

// parseXMLResponse dynamically parses XML error responses and accumulates potential error messages.
func parseXMLResponse(bodyBytes []byte, apiError *APIError) {
	apiError.RawResponse = string(bodyBytes)

	doc, err := xmlquery.Parse(bytes.NewReader(bodyBytes))
	if err != nil {
		return
	}

	if node := xmlquery.FindOne(doc, "//message"); node != nil && strings.TrimSpace(node.InnerText()) != "" {
		apiError.Message = strings.TrimSpace(node.InnerText())
		return
	}

	var messages []string
	var traverse func(*xmlquery.Node)
	traverse = func(n *xmlquery.Node) {
		if n.Type == xmlquery.TextNode && strings.TrimSpace(n.Data) != "" {
			messages = append(messages, strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	if len(messages) > 0 {
		apiError.Message = strings.Join(messages, "; ")
	}
}

// parseTextResponse uses a plain text body as the message.
func parseTextResponse(bodyBytes []byte, apiError *APIError) {
	bodyText := strings.TrimSpace(string(bodyBytes))
	apiError.RawResponse = string(bodyBytes)
	if bodyText != "" {
		apiError.Message = bodyText
	}
}

// parseHTMLResponse extracts meaningful information from an HTML error response,
// concatenating the title and all text within <p> tags.
func parseHTMLResponse(bodyBytes []byte, apiError *APIError) {
	apiError.RawResponse = string(bodyBytes)

	doc, err := html.Parse(bytes.NewReader(bodyBytes))
	if err != nil {
		return
	}

	var messages []string
	var text func(*html.Node, *strings.Builder)
	text = func(n *html.Node, b *strings.Builder) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			text(c, b)
		}
	}

	var parse func(*html.Node)
	parse = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "title" || n.Data == "p" || n.Data == "h1") {
			var b strings.Builder
			text(n, &b)
			if s := b.String(); s != "" {
				messages = append(messages, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			parse(c)
		}
	}
	parse(doc)

	if len(messages) > 0 {
		apiError.Message = strings.Join(dedupe(messages), "; ")
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
