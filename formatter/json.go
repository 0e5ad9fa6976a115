package formatter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"gopkg.in/yaml.v3"
)

// Payload is an API response that can be shown nested or as a table.
type Payload interface {
	Document() any
	Table() (header []string, rows [][]string)
}

// Render serializes p as mime. Unknown types render as JSON.
func Render(mime string, p Payload) ([]byte, error) {
	switch mime {
	case MIMEYAML:
		return buildYAML(p.Document())
	case MIMECSV, MIMEText:
		return buildCSV(p.Table())
	case MIMEHTML:
		return buildHTML(p.Table())
	default:
		return buildJSON(p.Document())
	}
}

// Write negotiates the representation from accept and writes p with status.
func Write(w http.ResponseWriter, accept string, status int, p Payload) error {
	mime := Negotiate(accept)
	body, err := Render(mime, p)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", mime+"; charset=utf-8")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

// WriteJSON writes v as JSON regardless of the Accept header.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	body, err := buildJSON(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", MIMEJSON+"; charset=utf-8")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

func buildJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return buf.Bytes(), nil
}

func buildYAML(v any) ([]byte, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return b, nil
}
