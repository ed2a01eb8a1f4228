package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// doneSentinel marks normal end-of-stream. It is a literal token, not
// JSON, and must never reach the JSON decoder.
const doneSentinel = "[DONE]"

// eventKind is the closed set of wire event variants this client knows.
// Unknown event types decode to eventIgnored, which keeps the stream
// forward-compatible with server-added kinds.
type eventKind int

const (
	eventIgnored eventKind = iota
	eventTextDelta
)

type streamEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

func decodeStreamEvent(raw []byte) (eventKind, string, error) {
	var evt streamEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return eventIgnored, "", err
	}
	if evt.Type == "response.output_text.delta" {
		return eventTextDelta, evt.Delta, nil
	}
	return eventIgnored, "", nil
}

// Stream is a live sequence of text deltas from one completion request.
// It is finite and not restartable; a fresh StreamResponses call is
// required to retry.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *logrus.Logger
}

// StreamResponses opens a streaming completion request. The returned
// Stream yields deltas in arrival order until io.EOF; cancelling ctx
// aborts the underlying connection and ends the stream with ctx's error.
func (c *Client) StreamResponses(ctx context.Context, model string, input []InputMessage) (*Stream, error) {
	body, err := json.Marshal(responsesRequest{
		Model:  model,
		Input:  input,
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &Stream{
		ctx:     ctx,
		body:    resp.Body,
		scanner: scanner,
		logger:  c.logger,
	}, nil
}

// Recv returns the next text delta. It returns io.EOF when the stream
// ends normally and the context error after cancellation. Malformed
// records are skipped with a warning and never abort the stream.
func (s *Stream) Recv() (string, error) {
	for {
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			if err := s.ctx.Err(); err != nil {
				return "", err
			}
			if err := s.scanner.Err(); err != nil {
				return "", fmt.Errorf("read stream: %w", err)
			}
			return "", io.EOF
		}

		data, ok := strings.CutPrefix(s.scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == doneSentinel {
			continue
		}

		kind, delta, err := decodeStreamEvent([]byte(data))
		if err != nil {
			s.logger.WithError(err).Warn("skipping malformed stream record")
			continue
		}
		if kind == eventTextDelta && delta != "" {
			return delta, nil
		}
	}
}

// Close releases the underlying connection. Safe to call after Recv has
// returned an error.
func (s *Stream) Close() error {
	return s.body.Close()
}
