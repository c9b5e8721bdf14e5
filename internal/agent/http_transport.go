package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
)

// Типы NDJSON конвертов.
const (
	envelopeData     = "data"
	envelopeArtifact = "artifact"
	envelopeError    = "error"
)

const maxEnvelopeSize = 4 << 20

// HTTPTransport — транспорт до агента с HTTP API.
//
// Запрос: POST {url} с JSON {"correlation_id", "instruction", "agent"}.
//
// Ответ:
//   - application/x-ndjson — поток конвертов, по одному JSON на строку:
//     {"kind":"data","correlation_id":"..","content":"..","final":false}
//     {"kind":"artifact","correlation_id":"..","artifact":{"parts":[{"text":".."},{"data":{..}}]},"last_chunk":true}
//     {"kind":"error","error":".."}
//   - любой другой тип — тело целиком как один финальный чанк.
//
// Коды 5xx и 429 — временные ошибки, остальные 4xx — неповторяемые.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPTransport создаёт транспорт.
// connectTimeout ограничивает dial и TLS handshake.
func NewHTTPTransport(url string, headers map[string]string, connectTimeout time.Duration) *HTTPTransport {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPTransport{
		url:     url,
		headers: headers,
		client:  &http.Client{Transport: transport},
	}
}

type httpRequest struct {
	CorrelationID string `json:"correlation_id"`
	Instruction   string `json:"instruction"`
	Agent         string `json:"agent"`
}

type envelope struct {
	Kind          string          `json:"kind"`
	CorrelationID string          `json:"correlation_id"`
	Content       json.RawMessage `json:"content"`
	Final         bool            `json:"final"`
	Artifact      *struct {
		Parts []struct {
			Text string         `json:"text"`
			Data map[string]any `json:"data"`
		} `json:"parts"`
	} `json:"artifact"`
	LastChunk bool   `json:"last_chunk"`
	Error     string `json:"error"`
}

// Stream реализует Transport.
func (t *HTTPTransport) Stream(ctx context.Context, req Request) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		resp, err := t.do(ctx, req)
		if err != nil {
			yield(StreamChunk{}, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			yield(StreamChunk{}, ClassifyStatus(req.Agent, resp.StatusCode,
				errors.New(truncate(strings.TrimSpace(string(body)), 200))))
			return
		}

		mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if mediaType == "application/x-ndjson" || mediaType == "application/jsonl" {
			t.streamNDJSON(resp.Body, req, yield)
			return
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			yield(StreamChunk{}, err)
			return
		}
		yield(StreamChunk{
			CorrelationID: req.CorrelationID,
			Text:          string(body),
			Final:         true,
		}, nil)
	}
}

func (t *HTTPTransport) do(ctx context.Context, req Request) (*http.Response, error) {
	body, err := json.Marshal(httpRequest{
		CorrelationID: req.CorrelationID,
		Instruction:   req.Instruction,
		Agent:         req.Agent,
	})
	if err != nil {
		return nil, &NonRetryableAgentError{Agent: req.Agent, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, &NonRetryableAgentError{Agent: req.Agent, Err: fmt.Errorf("create request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson, application/json")
	for key, val := range t.headers {
		httpReq.Header.Set(key, val)
	}

	return t.client.Do(httpReq)
}

// streamNDJSON читает конверты построчно и отдаёт их как чанки.
func (t *HTTPTransport) streamNDJSON(body io.Reader, req Request, yield func(StreamChunk, error) bool) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxEnvelopeSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		chunk, err := decodeEnvelope(line, req)
		if err != nil {
			yield(StreamChunk{}, err)
			return
		}
		if !yield(chunk, nil) {
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		yield(StreamChunk{}, err)
	}
}

// decodeEnvelope приводит конверт к StreamChunk.
// Конверт без correlation_id относится к текущему запросу.
func decodeEnvelope(line []byte, req Request) (StreamChunk, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return StreamChunk{}, &NonRetryableAgentError{Agent: req.Agent, Err: fmt.Errorf("malformed envelope: %w", err)}
	}

	chunk := StreamChunk{CorrelationID: env.CorrelationID}
	if chunk.CorrelationID == "" {
		chunk.CorrelationID = req.CorrelationID
	}

	switch env.Kind {
	case envelopeData, "":
		if err := decodeContent(env.Content, &chunk); err != nil {
			return StreamChunk{}, &NonRetryableAgentError{Agent: req.Agent, Err: err}
		}
		chunk.Final = env.Final

	case envelopeArtifact:
		if env.Artifact != nil {
			var text strings.Builder
			for _, part := range env.Artifact.Parts {
				text.WriteString(part.Text)
				if len(part.Data) > 0 {
					if chunk.Data == nil {
						chunk.Data = make(map[string]any)
					}
					for k, v := range part.Data {
						chunk.Data[k] = v
					}
				}
			}
			chunk.Text = text.String()
		}
		chunk.Final = env.LastChunk || env.Final

	case envelopeError:
		return StreamChunk{}, &NonRetryableAgentError{Agent: req.Agent, Err: errors.New(env.Error)}

	default:
		return StreamChunk{}, &NonRetryableAgentError{Agent: req.Agent, Err: fmt.Errorf("unknown envelope kind %q", env.Kind)}
	}

	return chunk, nil
}

// decodeContent: строка — текст, объект — структурированные данные.
func decodeContent(raw json.RawMessage, chunk *StreamChunk) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	switch raw[0] {
	case '"':
		return json.Unmarshal(raw, &chunk.Text)
	case '{':
		return json.Unmarshal(raw, &chunk.Data)
	default:
		chunk.Text = string(raw)
		return nil
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
