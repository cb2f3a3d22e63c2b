package converter_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vidrelay/internal/services"
	"vidrelay/internal/services/converter"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *converter.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := converter.NewClient(converter.Config{BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRejectsInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://host", "localhost:5000", "http://"} {
		if _, err := converter.NewClient(converter.Config{BaseURL: raw}); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("NewClient(%q) err = %v, want configuration error", raw, err)
		}
	}
}

func TestPostChunkSendsMultipartFields(t *testing.T) {
	var got map[string]string
	var chunkData string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		got = map[string]string{}
		for key, values := range r.MultipartForm.Value {
			got[key] = values[0]
		}
		file, header, err := r.FormFile("chunk")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			if header.Filename != "chunk" {
				t.Errorf("chunk filename = %q", header.Filename)
			}
			data, _ := io.ReadAll(file)
			chunkData = string(data)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"session_id": 42, "message": "块 1/3 上传成功"}`)
	})

	resp, err := client.PostChunk(context.Background(), converter.Chunk{
		Filename:       "movie.mp4",
		Index:          0,
		Total:          3,
		AdditionalArgs: "--fast",
		Data:           []byte("payload"),
	})
	if err != nil {
		t.Fatalf("PostChunk: %v", err)
	}
	if resp.SessionID != "42" || resp.Message != "块 1/3 上传成功" {
		t.Fatalf("response = %+v", resp)
	}
	if chunkData != "payload" {
		t.Fatalf("chunk data = %q", chunkData)
	}
	want := map[string]string{"filename": "movie.mp4", "chunk_index": "0", "total_chunks": "3", "additional_args": "--fast"}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("field %s = %q, want %q", key, got[key], value)
		}
	}
	if _, ok := got["session_id"]; ok {
		t.Fatal("session_id must be omitted when no token is held")
	}
}

func TestPostChunkIncludesSessionToken(t *testing.T) {
	var session string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		session = r.FormValue("session_id")
		_, _ = io.WriteString(w, `{"message": "ok"}`)
	})
	if _, err := client.PostChunk(context.Background(), converter.Chunk{Filename: "a.mp4", Index: 1, Total: 2, SessionToken: "tok"}); err != nil {
		t.Fatalf("PostChunk: %v", err)
	}
	if session != "tok" {
		t.Fatalf("session_id = %q, want tok", session)
	}
}

func TestPostChunkClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		marker error
	}{
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", marker: services.ErrTransient},
		{name: "client error", status: http.StatusBadRequest, body: "nope", marker: services.ErrPermanent},
		{name: "malformed", status: http.StatusOK, body: "<html>", marker: services.ErrProtocol},
		{name: "json array", status: http.StatusOK, body: "[]", marker: services.ErrProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := client.PostChunk(context.Background(), converter.Chunk{Filename: "a.mp4", Total: 1})
			if !errors.Is(err, tt.marker) {
				t.Fatalf("err = %v, want marker %v", err, tt.marker)
			}
			var statusErr *converter.StatusError
			if tt.status >= 300 && !errors.As(err, &statusErr) {
				t.Fatalf("expected StatusError, got %T", err)
			}
		})
	}
}

func TestFetchStatusSkipsInvalidEntries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"converted_files": ["a.mp4", "", 7, null, {"x": 1}, "b.mkv"]}`)
	})
	names, err := client.FetchStatus(context.Background())
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if strings.Join(names, ",") != "a.mp4,b.mkv" {
		t.Fatalf("names = %v", names)
	}
}

func TestFetchStatusMissingListIsEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	names, err := client.FetchStatus(context.Background())
	if err != nil || len(names) != 0 {
		t.Fatalf("names=%v err=%v", names, err)
	}
}

func TestFetchStatusRejectsMalformed(t *testing.T) {
	for _, body := range []string{`not json`, `{"converted_files": "a.mp4"}`} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		})
		if _, err := client.FetchStatus(context.Background()); !errors.Is(err, services.ErrProtocol) {
			t.Fatalf("body %q: err = %v, want protocol error", body, err)
		}
	}
}

func TestOpenDownloadSendsRangeAndEscapesName(t *testing.T) {
	var rangeHeader, rawPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rangeHeader = r.Header.Get("Range")
		rawPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.WriteString(w, "tail")
	})

	stream, err := client.OpenDownload(context.Background(), "my film #1.mp4", 10)
	if err != nil {
		t.Fatalf("OpenDownload: %v", err)
	}
	defer stream.Body.Close()
	data, _ := io.ReadAll(stream.Body)

	if stream.StatusCode != http.StatusPartialContent || string(data) != "tail" {
		t.Fatalf("stream = %d %q", stream.StatusCode, data)
	}
	if rangeHeader != "bytes=10-" {
		t.Fatalf("Range = %q", rangeHeader)
	}
	if rawPath != "/download/my%20film%20%231.mp4" {
		t.Fatalf("path = %q", rawPath)
	}
}

func TestOpenDownloadWithoutOffsetOmitsRange(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Range"); got != "" {
			t.Errorf("unexpected Range %q", got)
		}
		http.NotFound(w, r)
	})
	_, err := client.OpenDownload(context.Background(), "gone.mp4", 0)
	var statusErr *converter.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 StatusError", err)
	}
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("404 should be permanent, got %v", err)
	}
}

func TestEscapeFilename(t *testing.T) {
	cases := map[string]string{
		"a.mp4":       "a.mp4",
		"a b+c.mp4":   "a%20b%2Bc.mp4",
		"dir/x.mp4":   "dir%2Fx.mp4",
		"演示.mp4":      "%E6%BC%94%E7%A4%BA.mp4",
		"t~_-.mkv":    "t~_-.mkv",
	}
	for in, want := range cases {
		if got := converter.EscapeFilename(in); got != want {
			t.Fatalf("EscapeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
