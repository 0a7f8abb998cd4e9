package whisper

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/stt"
)

func TestNew_RequiresServerURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestTranscribe_Success(t *testing.T) {
	var gotPath, gotLanguage, gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		if f, hdr, err := r.FormFile("file"); err == nil {
			gotFilename = hdr.Filename
			b, _ := io.ReadAll(f)
			if string(b) != "RIFFdata" {
				t.Errorf("uploaded payload = %q", b)
			}
			f.Close()
		} else {
			t.Errorf("form file: %v", err)
		}
		w.Write([]byte(`{"text": "  turn on the lights \n"}`))
	}))
	defer srv.Close()

	tr, err := New(srv.URL, WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := tr.Transcribe(context.Background(), []byte("RIFFdata"), "voice_query.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "turn on the lights" {
		t.Errorf("text = %q, want trimmed transcript", text)
	}
	if gotPath != "/inference" {
		t.Errorf("path = %q, want /inference", gotPath)
	}
	if gotLanguage != "en" {
		t.Errorf("language field = %q, want en", gotLanguage)
	}
	if gotFilename != "voice_query.wav" {
		t.Errorf("filename = %q", gotFilename)
	}
}

func TestTranscribe_EmptyPayload(t *testing.T) {
	tr, _ := New("http://unused")
	_, err := tr.Transcribe(context.Background(), nil, "a.wav")
	if fault.KindOf(err) != fault.KindEmptyCapture {
		t.Errorf("kind = %v, want empty_capture", fault.KindOf(err))
	}
}

func TestTranscribe_OversizedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("oversized payload must not reach the server")
	}))
	defer srv.Close()

	tr, _ := New(srv.URL)
	_, err := tr.Transcribe(context.Background(), make([]byte, stt.MaxUploadBytes+1), "a.wav")
	if fault.KindOf(err) != fault.KindService {
		t.Errorf("kind = %v, want service", fault.KindOf(err))
	}
	if fault.Retryable(err) {
		t.Error("oversized payload must not be retryable")
	}
}

func TestTranscribe_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr, _ := New(srv.URL)
	_, err := tr.Transcribe(context.Background(), []byte("RIFF"), "a.wav")
	if !fault.Retryable(err) {
		t.Errorf("HTTP 503 should be retryable, got %v", err)
	}
}

func TestTranscribe_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	tr, _ := New(srv.URL)
	_, err := tr.Transcribe(context.Background(), []byte("RIFF"), "a.wav")
	if fault.KindOf(err) != fault.KindService {
		t.Errorf("kind = %v, want service", fault.KindOf(err))
	}
	if fault.Retryable(err) {
		t.Error("HTTP 400 must not be retryable")
	}
}

func TestTranscribe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	tr, _ := New(srv.URL)
	_, err := tr.Transcribe(context.Background(), []byte("RIFF"), "a.wav")
	if fault.KindOf(err) != fault.KindNetwork {
		t.Errorf("kind = %v, want network", fault.KindOf(err))
	}
}

func TestTranscribe_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	tr, _ := New(srv.URL)
	_, err := tr.Transcribe(context.Background(), []byte("RIFF"), "a.wav")
	if fault.KindOf(err) != fault.KindService {
		t.Errorf("kind = %v, want service", fault.KindOf(err))
	}
}

func TestTranscribe_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	tr, _ := New(srv.URL, WithAPIKey("secret"))
	if _, err := tr.Transcribe(context.Background(), []byte("RIFF"), "a.wav"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestCheckConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// whisper-server answers GET / with its demo page; 404 still proves
		// the process is up.
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tr, _ := New(srv.URL)
	if err := tr.CheckConnectivity(context.Background()); err != nil {
		t.Errorf("CheckConnectivity = %v, want nil for HTTP 404", err)
	}
}

func TestCheckConnectivity_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "dying", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, _ := New(srv.URL)
	err := tr.CheckConnectivity(context.Background())
	if fault.KindOf(err) != fault.KindService {
		t.Errorf("kind = %v, want service", fault.KindOf(err))
	}
}

func TestCheckConnectivity_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	tr, _ := New(srv.URL)
	err := tr.CheckConnectivity(context.Background())
	if fault.KindOf(err) != fault.KindNetwork {
		t.Errorf("kind = %v, want network", fault.KindOf(err))
	}
}

func TestServerURLTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "//") {
			t.Errorf("path %q contains double slash", r.URL.Path)
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	tr, _ := New(srv.URL + "/")
	if _, err := tr.Transcribe(context.Background(), []byte("RIFF"), "a.wav"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}
