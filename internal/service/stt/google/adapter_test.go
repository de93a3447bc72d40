package google

import (
	"errors"
	"io"
	"testing"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"voice-turn-ingress/internal/service/stt"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate 8000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != true {
		t.Errorf("expected default interim results true, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"invalid", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"", speechpb.RecognitionConfig_LINEAR16},        // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfig_CustomValues(t *testing.T) {
	cfg := Config{
		LanguageCode:   "es-ES",
		SampleRateHz:   16000,
		InterimResults: false,
		AudioEncoding:  "MULAW",
	}

	if cfg.LanguageCode != "es-ES" {
		t.Errorf("expected language 'es-ES', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != false {
		t.Errorf("expected interim results false, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "MULAW" {
		t.Errorf("expected encoding 'MULAW', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding_CaseSensitive(t *testing.T) {
	// Encoding strings should be uppercase
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"Linear16", speechpb.RecognitionConfig_LINEAR16}, // mixed case -> fallback
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16}, // uppercase -> match
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

// fakeStream replays responses and then returns end.
type fakeStream struct {
	grpc.ClientStream
	responses []*speechpb.StreamingRecognizeResponse
	end       error
}

func (f *fakeStream) Send(*speechpb.StreamingRecognizeRequest) error { return nil }

func (f *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	if len(f.responses) == 0 {
		return nil, f.end
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

type recordingCallback struct {
	stt.NopCallback
	events []string
	errs   []error
}

func (r *recordingCallback) OnPartial(text string) { r.events = append(r.events, "partial:"+text) }
func (r *recordingCallback) OnFinal(text string, _ float64) { r.events = append(r.events, "final:"+text) }
func (r *recordingCallback) OnEndOfUtterance() { r.events = append(r.events, "eou") }
func (r *recordingCallback) OnError(err error) { r.errs = append(r.errs, err) }

func result(text string, final bool) *speechpb.StreamingRecognitionResult {
	return &speechpb.StreamingRecognitionResult{
		IsFinal:      final,
		Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text, Confidence: 0.9}},
	}
}

func TestListen_MapsResultsToTurns(t *testing.T) {
	stream := &fakeStream{
		responses: []*speechpb.StreamingRecognizeResponse{
			{Results: []*speechpb.StreamingRecognitionResult{result("hello", false)}},
			{Results: []*speechpb.StreamingRecognitionResult{{IsFinal: true}}}, // no alternatives
			{Results: []*speechpb.StreamingRecognitionResult{result("hello there", true)}},
		},
		end: io.EOF,
	}
	cb := &recordingCallback{}
	a := &Adapter{logger: zerolog.Nop()}

	a.listen(stream, cb)

	want := []string{"partial:hello", "final:hello there", "eou"}
	if len(cb.events) != len(want) {
		t.Fatalf("expected %v, got %v", want, cb.events)
	}
	for i := range want {
		if cb.events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, cb.events)
		}
	}
	if len(cb.errs) != 0 {
		t.Errorf("expected no errors on EOF, got %v", cb.errs)
	}
}

func TestListen_ReportsErrorUnlessClosed(t *testing.T) {
	boom := errors.New("unavailable")

	cb := &recordingCallback{}
	(&Adapter{logger: zerolog.Nop()}).listen(&fakeStream{end: boom}, cb)
	if len(cb.errs) != 1 || !errors.Is(cb.errs[0], boom) {
		t.Errorf("expected stream error reported, got %v", cb.errs)
	}

	cb = &recordingCallback{}
	(&Adapter{logger: zerolog.Nop(), closed: true}).listen(&fakeStream{end: boom}, cb)
	if len(cb.errs) != 0 {
		t.Errorf("expected no error after close, got %v", cb.errs)
	}
}
