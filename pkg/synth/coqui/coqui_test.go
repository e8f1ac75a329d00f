package coqui

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/lectern/pkg/synth"
)

// buildTestWAV constructs a minimal but valid RIFF/WAVE byte slice containing
// the supplied raw PCM samples: a standard 44-byte header (RIFF + fmt + data)
// at 16 kHz mono so that parseWAV can locate the audio payload.
func buildTestWAV(pcm []byte) []byte {
	fmtSize := uint32(16)
	dataSize := uint32(len(pcm))
	fileSize := 4 + (8 + fmtSize) + (8 + dataSize)

	buf := make([]byte, 0, 12+8+fmtSize+8+dataSize)
	le := binary.LittleEndian

	putU32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	putU16 := func(v uint16) {
		var b [2]byte
		le.PutUint16(b[:], v)
		buf = append(buf, b[:]...)
	}

	buf = append(buf, []byte("RIFF")...)
	putU32(fileSize)
	buf = append(buf, []byte("WAVE")...)

	buf = append(buf, []byte("fmt ")...)
	putU32(fmtSize)
	putU16(1)     // PCM format
	putU16(1)     // mono
	putU32(16000) // sample rate
	putU32(32000) // byte rate
	putU16(2)     // block align
	putU16(16)    // bits per sample

	buf = append(buf, []byte("data")...)
	putU32(dataSize)
	buf = append(buf, pcm...)

	return buf
}

func mustNew(t *testing.T, serverURL string, opts ...Option) *Synthesizer {
	t.Helper()
	s, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return s
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s := mustNew(t, "http://localhost:5002")
		if s.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want %q", s.serverURL, "http://localhost:5002")
		}
		if s.language != defaultLanguage {
			t.Errorf("language = %q, want %q", s.language, defaultLanguage)
		}
		if s.apiMode != APIModeStandard {
			t.Errorf("apiMode = %q, want %q", s.apiMode, APIModeStandard)
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		s := mustNew(t, "http://localhost:5002/")
		if s.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", s.serverURL)
		}
	})

	t.Run("empty URL rejected", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty serverURL, got nil")
		}
	})

	t.Run("options applied", func(t *testing.T) {
		s := mustNew(t, "http://localhost:8002",
			WithLanguage("de"),
			WithAPIMode(APIModeXTTS),
			WithTimeout(5*time.Second),
		)
		if s.language != "de" {
			t.Errorf("language = %q, want %q", s.language, "de")
		}
		if s.apiMode != APIModeXTTS {
			t.Errorf("apiMode = %q, want %q", s.apiMode, APIModeXTTS)
		}
		if s.httpClient.Timeout != 5*time.Second {
			t.Errorf("timeout = %v, want 5s", s.httpClient.Timeout)
		}
	})
}

func TestSynthesize_Standard(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, apiTTSEndpoint)
		}
		q := r.URL.Query()
		if q.Get("text") != "Hello world." {
			t.Errorf("text = %q, want %q", q.Get("text"), "Hello world.")
		}
		if q.Get("speaker_id") != "p225" {
			t.Errorf("speaker_id = %q, want %q", q.Get("speaker_id"), "p225")
		}
		if q.Get("language_id") != "en" {
			t.Errorf("language_id = %q, want %q", q.Get("language_id"), "en")
		}
		w.Write(buildTestWAV(pcm))
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	clip, err := s.Synthesize(context.Background(), "Hello world.", "p225", 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clip.PCM) != len(pcm) {
		t.Errorf("PCM length = %d, want %d", len(clip.PCM), len(pcm))
	}
	if clip.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", clip.SampleRate)
	}
	if clip.Channels != 1 {
		t.Errorf("channels = %d, want 1", clip.Channels)
	}
	if len(clip.Events) != 0 {
		t.Errorf("clip carries %d events, want none", len(clip.Events))
	}
	if clip.Text != "Hello world." {
		t.Errorf("clip text = %q, want input text", clip.Text)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsEndpoint {
			t.Errorf("got %s %s, want POST %s", r.Method, r.URL.Path, ttsEndpoint)
		}
		w.Write(buildTestWAV([]byte{1, 0, 2, 0}))
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	clip, err := s.Synthesize(context.Background(), "Hello.", "claribel", 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clip.PCM) != 4 {
		t.Errorf("PCM length = %d, want 4", len(clip.PCM))
	}
}

func TestSynthesize_XTTSRequiresVoice(t *testing.T) {
	s := mustNew(t, "http://localhost:8002", WithAPIMode(APIModeXTTS))
	_, err := s.Synthesize(context.Background(), "Hello.", "", 1.0)
	var synthErr *synth.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("error = %v, want *synth.SynthesisError", err)
	}
}

func TestSynthesize_ServerErrorIsSynthesisError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	_, err := s.Synthesize(context.Background(), "Hello.", "p225", 1.0)
	var synthErr *synth.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("error = %v, want *synth.SynthesisError", err)
	}
	if synthErr.VoiceID != "p225" {
		t.Errorf("VoiceID = %q, want %q", synthErr.VoiceID, "p225")
	}
}

func TestSynthesize_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(buildTestWAV(nil))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := mustNew(t, srv.URL)
	_, err := s.Synthesize(ctx, "Hello.", "p225", 1.0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestSynthesize_SpeedTimeScales(t *testing.T) {
	// 8 samples at 1.0x become 4 at 2.0x.
	pcm := make([]byte, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(buildTestWAV(pcm))
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL)
	clip, err := s.Synthesize(context.Background(), "Hello.", "p225", 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clip.PCM) != 8 {
		t.Errorf("PCM length at 2.0x = %d, want 8", len(clip.PCM))
	}
}

func TestVoices_Standard(t *testing.T) {
	t.Run("multi-speaker", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != detailsEndpoint {
				t.Errorf("path = %q, want %q", r.URL.Path, detailsEndpoint)
			}
			w.Write([]byte(`{"model_name":"vctk","speakers":["p226","p225"]}`))
		}))
		defer srv.Close()

		s := mustNew(t, srv.URL)
		voices, err := s.Voices(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(voices) != 2 || voices[0] != "p225" || voices[1] != "p226" {
			t.Errorf("voices = %v, want sorted [p225 p226]", voices)
		}
	})

	t.Run("single-speaker", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"model_name":"ljspeech"}`))
		}))
		defer srv.Close()

		s := mustNew(t, srv.URL)
		voices, err := s.Voices(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(voices) != 1 || voices[0] != "ljspeech" {
			t.Errorf("voices = %v, want [ljspeech]", voices)
		}
	})
}

func TestVoices_XTTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, studioSpeakersEndpoint)
		}
		w.Write([]byte(`{"Claribel Dervla":{},"Ana Florence":{}}`))
	}))
	defer srv.Close()

	s := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	voices, err := s.Voices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 2 || voices[0] != "Ana Florence" {
		t.Errorf("voices = %v, want sorted with Ana Florence first", voices)
	}
}

func TestParseWAV(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		info, err := parseWAV(buildTestWAV([]byte{1, 0}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.DataOffset != 44 {
			t.Errorf("data offset = %d, want 44", info.DataOffset)
		}
		if info.SampleRate != 16000 {
			t.Errorf("sample rate = %d, want 16000", info.SampleRate)
		}
		if info.Channels != 1 {
			t.Errorf("channels = %d, want 1", info.Channels)
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		for _, bad := range [][]byte{nil, []byte("short"), []byte("NOTRIFFxxWAVE")} {
			if _, err := parseWAV(bad); err == nil {
				t.Errorf("parseWAV(%q) accepted invalid input", bad)
			}
		}
	})

	t.Run("missing data chunk", func(t *testing.T) {
		wav := buildTestWAV(nil)[:36] // RIFF + fmt only
		if _, err := parseWAV(wav); err == nil {
			t.Error("expected error for WAV without data chunk")
		}
	})
}

func TestTimeScaleMono16(t *testing.T) {
	pcm := make([]byte, 20) // 10 samples

	if got := len(timeScaleMono16(pcm, 2.0)); got != 10 {
		t.Errorf("2.0x length = %d bytes, want 10", got)
	}
	if got := len(timeScaleMono16(pcm, 0.5)); got != 40 {
		t.Errorf("0.5x length = %d bytes, want 40", got)
	}
	if got := timeScaleMono16(nil, 2.0); len(got) != 0 {
		t.Errorf("empty input produced %d bytes", len(got))
	}
}
