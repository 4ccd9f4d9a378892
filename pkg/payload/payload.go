// Package payload decodes inbound webhook bodies and extracts the message
// text and optional thread subject from Slack-style payloads.
package payload

import (
	"bytes"
	"mime"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"webhookrelay/pkg/markup"
	"webhookrelay/pkg/relayerr"
)

// Encoding is the declared content encoding of an inbound body.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingForm Encoding = "form"
)

const (
	mediaTypeJSON = "application/json"
	mediaTypeForm = "application/x-www-form-urlencoded"

	formPayloadField = "payload"
)

// Fallback paths into the parsed document, tried in order.
var (
	subjectPaths = []string{"text"}
	textPaths    = []string{"attachments.0.text", "text"}
)

// Envelope is one inbound request body with its declared encoding.
type Envelope struct {
	Encoding Encoding
	Body     []byte
}

// Message is the normalized content of an inbound webhook.
type Message struct {
	Text string
	// ThreadSubject is empty when the payload carries no subject.
	ThreadSubject string
	// Source is the decoded JSON document the message was extracted from.
	Source []byte
}

// ParseEncoding maps a Content-Type header to an Encoding.
func ParseEncoding(contentType string) (Encoding, error) {
	if strings.TrimSpace(contentType) == "" {
		return "", relayerr.New(relayerr.ErrorMalformedPayload, "missing Content-Type")
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", relayerr.Wrap(relayerr.ErrorMalformedPayload, "invalid Content-Type", err)
	}

	switch mediaType {
	case mediaTypeJSON:
		return EncodingJSON, nil
	case mediaTypeForm:
		return EncodingForm, nil
	default:
		return "", relayerr.New(relayerr.ErrorMalformedPayload, "unsupported Content-Type "+mediaType)
	}
}

// Extract decodes the envelope and builds a Message.
//
// The thread subject is the top-level text field. The message text is the
// first non-empty string among attachments[0].text and text. Both pass
// through markup.Convert.
func Extract(env Envelope) (Message, error) {
	doc, err := decode(env)
	if err != nil {
		return Message{}, err
	}

	root := gjson.ParseBytes(doc)
	if !root.IsObject() {
		return Message{}, relayerr.New(relayerr.ErrorMalformedPayload, "payload must be a JSON object")
	}

	text, ok := firstString(root, textPaths)
	if !ok {
		return Message{}, relayerr.New(relayerr.ErrorEmptyPayload, "no text content found in payload")
	}

	msg := Message{
		Text:   markup.Convert(text),
		Source: doc,
	}
	if subject, ok := firstString(root, subjectPaths); ok {
		msg.ThreadSubject = markup.Convert(normalizeSubject(subject))
	}

	return msg, nil
}

func decode(env Envelope) ([]byte, error) {
	body := bytes.TrimSpace(env.Body)
	if len(body) == 0 {
		return nil, relayerr.New(relayerr.ErrorEmptyPayload, "request body cannot be empty")
	}

	switch env.Encoding {
	case EncodingJSON:
		if !gjson.ValidBytes(body) {
			return nil, relayerr.New(relayerr.ErrorMalformedPayload, "request body must be valid JSON")
		}
		return body, nil
	case EncodingForm:
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, relayerr.Wrap(relayerr.ErrorMalformedPayload, "invalid form body", err)
		}
		if !values.Has(formPayloadField) {
			return nil, relayerr.New(relayerr.ErrorMalformedPayload, `form data must contain a "payload" field with JSON`)
		}
		raw := strings.TrimSpace(values.Get(formPayloadField))
		if !gjson.Valid(raw) {
			return nil, relayerr.New(relayerr.ErrorMalformedPayload, "invalid JSON in payload field")
		}
		return []byte(raw), nil
	default:
		return nil, relayerr.New(relayerr.ErrorMalformedPayload, "unsupported encoding "+string(env.Encoding))
	}
}

// firstString walks paths in order and returns the first non-empty string
// value. Missing fields and non-string values count as absent.
func firstString(root gjson.Result, paths []string) (string, bool) {
	for _, path := range paths {
		value := lookup(root, path)
		if value.Type != gjson.String {
			continue
		}
		if value.Str != "" {
			return value.Str, true
		}
	}

	return "", false
}

// lookup resolves a dotted path one step at a time. Numeric steps only index
// arrays and named steps only read objects, so {"attachments":{"0":...}} does
// not satisfy attachments.0.
func lookup(root gjson.Result, path string) gjson.Result {
	current := root
	for _, step := range strings.Split(path, ".") {
		if _, err := strconv.Atoi(step); err == nil {
			if !current.IsArray() {
				return gjson.Result{}
			}
		} else if !current.IsObject() {
			return gjson.Result{}
		}

		current = current.Get(step)
		if !current.Exists() {
			return gjson.Result{}
		}
	}

	return current
}

// normalizeSubject trims the subject and drops leading markdown heading marks.
func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if strings.HasPrefix(subject, "#") {
		subject = strings.TrimSpace(strings.TrimLeft(subject, "#"))
	}

	return subject
}
