package history

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHistoryFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/history" {
			t.Fatalf("expected POST /api/history, got %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["chat_id"] != "r1" {
			t.Fatalf("expected chat_id r1, got %q", body["chat_id"])
		}
		io.WriteString(w, `{
			"ok": true,
			"chat_id": "r1",
			"conversation": [
				{"from": "user", "text": "hello", "created_at": "2026-03-01T10:00:00"},
				{"type": "file", "from": "bot", "file_url": "/uploads/a.pdf", "file_name": "a.pdf", "file_type": "pdf", "created_at": "2026-03-01T10:01:00"},
				{"type": "audio", "from": "user", "audio_url": "/uploads/b.webm", "audio_name": "b.webm", "audio_type": "webm", "created_at": "2026-03-01T10:02:00"}
			]
		}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	items, err := c.History(context.Background(), "r1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Type != "" || items[0].Text != "hello" {
		t.Fatalf("expected text item first, got %+v", items[0])
	}
	if items[1].Type != "file" || items[1].FileName != "a.pdf" {
		t.Fatalf("expected file item, got %+v", items[1])
	}
	if items[2].Type != "audio" || items[2].AudioURL != "/uploads/b.webm" {
		t.Fatalf("expected audio item, got %+v", items[2])
	}
}

func TestHistoryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	if _, err := c.History(context.Background(), "r1"); err == nil {
		t.Fatalf("expected an error on 500")
	} else if !strings.Contains(err.Error(), "status") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestUploadFileMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload" {
			t.Fatalf("expected /api/upload, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("expected part file: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "report.pdf" || string(data) != "pdf-bytes" {
			t.Fatalf("expected report.pdf with payload, got %q %q", hdr.Filename, data)
		}
		if got := r.FormValue("chat_id"); got != "r1" {
			t.Fatalf("expected chat_id field, got %q", got)
		}
		io.WriteString(w, `{"ok": true, "file_url": "/uploads/x_report.pdf", "file_name": "report.pdf", "file_type": "application/pdf", "message": {"message_id": "m9"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	up, err := c.UploadFile(context.Background(), "r1", "report.pdf", strings.NewReader("pdf-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if up.FileURL != "/uploads/x_report.pdf" || up.FileType != "application/pdf" {
		t.Fatalf("expected upload record, got %+v", up)
	}
	if len(up.Message) == 0 {
		t.Fatalf("expected broadcast message kept raw")
	}
}

func TestUploadAudioUsesAudioPart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload_audio" {
			t.Fatalf("expected /api/upload_audio, got %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Fatalf("expected part audio: %v", err)
		}
		if got := r.FormValue("chat_id"); got != "" {
			t.Fatalf("expected no chat_id for a user upload, got %q", got)
		}
		io.WriteString(w, `{"ok": true, "audio_url": "/uploads/v.webm", "audio_name": "v.webm", "audio_type": "audio/webm"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	up, err := c.UploadAudio(context.Background(), "", "v.webm", strings.NewReader("opus"))
	if err != nil {
		t.Fatalf("upload audio: %v", err)
	}
	if up.AudioURL != "/uploads/v.webm" {
		t.Fatalf("expected audio url, got %+v", up)
	}
}

func TestUploadRejectedSurfacesNamedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"ok": false, "error": "File type not allowed"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	_, err := c.UploadFile(context.Background(), "r1", "virus.exe", strings.NewReader("mz"))
	if err == nil {
		t.Fatalf("expected rejection error")
	}
	if !strings.Contains(err.Error(), "File type not allowed") {
		t.Fatalf("expected named rejection, got %v", err)
	}
}
