package coqui

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voiceagent/broker/internal/provider/tts"
)

func riffWAV(data []byte) []byte {
	buf := make([]byte, 44+len(data))
	copy(buf[0:4], "RIFF")
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	copy(buf[36:40], "data")
	buf[40] = byte(len(data))
	copy(buf[44:], data)
	return buf
}

func TestNewRequiresServerURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestWavDataExtractsPayload(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	got, err := wavData(riffWAV(pcm))
	if err != nil {
		t.Fatalf("wavData: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("wavData = %v, want %v", got, pcm)
	}
}

func TestWavDataRejectsNonRIFF(t *testing.T) {
	if _, err := wavData([]byte("not a wav file at all")); err == nil {
		t.Fatal("expected error for non-RIFF input")
	}
}

func TestSynthesizeStreamCallsServerPerSentence(t *testing.T) {
	var gotQueries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQueries = append(gotQueries, r.URL.Query().Get("text"))
		w.Write(riffWAV([]byte{9, 9}))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	textCh := make(chan string, 2)
	textCh <- "hello"
	textCh <- "world"
	close(textCh)

	audioCh, err := p.SynthesizeStream(context.Background(), textCh, tts.VoiceProfile{}, 8000)
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	var chunks [][]byte
	for chunk := range audioCh {
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(gotQueries) != 2 || gotQueries[0] != "hello" || gotQueries[1] != "world" {
		t.Errorf("server saw queries %v, want [hello world]", gotQueries)
	}
}

func TestListVoicesParsesSpeakers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"speakers":["alice","bob"]}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "alice" || voices[1].ID != "bob" {
		t.Errorf("ListVoices = %+v, want alice, bob", voices)
	}
}

func TestWithTimeoutOption(t *testing.T) {
	p, err := New("http://example.invalid", WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.httpClient.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", p.httpClient.Timeout)
	}
}
