package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/sessionrelay/internal/session"
)

var (
	ErrURLRequired      = errors.New("relay: receiving service url required")
	ErrDeliveryRejected = errors.New("relay: delivery rejected")
)

const HeaderEventID = "X-Relay-Event-Id"

type eventContent struct {
	Event string            `json:"event"`
	User  *session.Identity `json:"user"`
	Error string            `json:"error,omitempty"`
}

// HTTPSender posts system events as multipart forms to the receiving service.
type HTTPSender struct {
	url    string
	client *http.Client
}

func NewHTTPSender(url string, timeout time.Duration) (*HTTPSender, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrURLRequired
	}
	return &HTTPSender{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPSender) SendLifecycleEvent(ctx context.Context, evt session.Event) error {
	body, contentType, err := encodeForm(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(HeaderEventID, evt.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status=%d body=%q", ErrDeliveryRejected, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func encodeForm(evt session.Event) (*bytes.Buffer, string, error) {
	content, err := json.Marshal(eventContent{
		Event: string(evt.Kind),
		User:  evt.Identity,
		Error: evt.Error,
	})
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"type", evt.Type()},
		{"content", string(content)},
		{"source", "{}"},
		{"isMentioned", "0"},
		{"isMsgFromSelf", "0"},
		{"isSystemEvent", "1"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
