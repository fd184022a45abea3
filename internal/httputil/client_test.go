package httputil

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestNewStandardClient(t *testing.T) {
	custom := &http.Client{}
	if got := NewStandardClient(custom); got != custom {
		t.Error("expected the custom client to be returned")
	}
	if got := NewStandardClient(nil); got != http.DefaultClient {
		t.Error("expected http.DefaultClient for nil")
	}
}

func TestMockHTTPClient(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusCreated, `{"ok":true}`).AddErrorResponse(errors.New("connection refused"))

	req, _ := http.NewRequest(http.MethodPost, "http://artos.local/api/detect", strings.NewReader("jpeg bytes"))
	resp, err := mock.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || string(body) != `{"ok":true}` {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}

	req2, _ := http.NewRequest(http.MethodGet, "http://artos.local/api/version", nil)
	if _, err := mock.Do(req2); err == nil || err.Error() != "connection refused" {
		t.Errorf("expected queued error, got %v", err)
	}

	resp, err = mock.Do(req2)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Errorf("drained queue should answer 200, got %v %v", resp, err)
	}

	if n := mock.RequestCount(); n != 3 {
		t.Fatalf("RequestCount = %d, want 3", n)
	}
	got, sent := mock.Request(0)
	if got.URL.Path != "/api/detect" || string(sent) != "jpeg bytes" {
		t.Errorf("recorded %s %q", got.URL.Path, sent)
	}
	if r, _ := mock.Request(5); r != nil {
		t.Error("out of range request should be nil")
	}
}
