package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	"kassa/internal/log"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"empty", "", 10, nil},
		{"fits", "a\nb", 10, []string{"a\nb"}},
		{"breaks on lines", "aaaa\nbbbb\ncccc", 9, []string{"aaaa\nbbbb", "cccc"}},
		{"exact fit", "aaaa\nbbbb", 9, []string{"aaaa\nbbbb"}},
		{"hard cut long line", "abcdefghijk\nxy", 5, []string{"abcde", "fghij", "k\nxy"}},
		{"hard cut exact multiple", "abcdefghij\nxy", 5, []string{"abcde", "fghij", "xy"}},
		{"counts bmp runes once", "ééé\nééé", 3, []string{"ééé", "ééé"}},
		{"counts astral runes twice", "😀😀😀", 4, []string{"😀😀", "😀"}},
		{"never cuts a surrogate pair", "a😀😀", 4, []string{"a😀", "😀"}},
		{"astral lines break early", "😀😀\n😀", 5, []string{"😀😀", "😀"}},
		{"keeps blank lines", "aa\n\nbb\ncc", 6, []string{"aa\n\nbb", "cc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.text, tt.max)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("Chunk() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChunkDefaultLimit(t *testing.T) {
	line := strings.Repeat("x", 100)
	text := strings.TrimSuffix(strings.Repeat(line+"\n", 100), "\n")
	chunks := Chunk(text, 0)
	if len(chunks) != 3 {
		t.Fatalf("Chunk() returned %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > MaxMessageLength {
			t.Errorf("chunk %d has %d chars", i, len(c))
		}
	}
	if strings.Join(chunks, "\n") != text {
		t.Errorf("chunks do not reassemble to the original text")
	}
}

func TestChunkUTF16Limit(t *testing.T) {
	line := strings.Repeat("🍕", 60) + " food"
	text := strings.TrimSuffix(strings.Repeat(line+"\n", 80), "\n")
	chunks := Chunk(text, 0)
	if len(chunks) < 2 {
		t.Fatalf("Chunk() returned %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if n := len(utf16.Encode([]rune(c))); n > MaxMessageLength {
			t.Errorf("chunk %d has %d UTF-16 units, limit %d", i, n, MaxMessageLength)
		}
	}
	if strings.Join(chunks, "\n") != text {
		t.Errorf("chunks do not reassemble to the original text")
	}
}

func newTestRetrying(next Sender, attempts int, maxWait time.Duration) (*RetryingSender, *[]time.Duration) {
	var slept []time.Duration
	s := NewRetryingSender(next, attempts, maxWait, log.Discard())
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func TestRetryingSenderHonoursRetryAfter(t *testing.T) {
	mem := NewMemorySender()
	mem.Fail = func(_ int64, attempt int) error {
		if attempt < 3 {
			return &RateLimitError{RetryAfter: time.Duration(attempt) * time.Second}
		}
		return nil
	}
	s, slept := newTestRetrying(mem, 5, time.Minute)

	if err := s.Send(context.Background(), 1, "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if mem.Attempts(1) != 3 || len(mem.Messages()) != 1 {
		t.Errorf("attempts = %d, messages = %d; want 3, 1", mem.Attempts(1), len(mem.Messages()))
	}
	if want := []time.Duration{time.Second, 2 * time.Second}; len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("slept = %v, want %v", *slept, want)
	}
}

func TestRetryingSenderGivesUp(t *testing.T) {
	mem := NewMemorySender()
	mem.Fail = func(int64, int) error { return &RateLimitError{RetryAfter: time.Second} }
	s, _ := newTestRetrying(mem, 3, time.Minute)

	err := s.Send(context.Background(), 1, "hi")
	if !IsRateLimit(err) || errors.Is(err, ErrDropped) {
		t.Fatalf("Send() error = %v, want rate limit", err)
	}
	if mem.Attempts(1) != 3 {
		t.Errorf("attempts = %d, want 3", mem.Attempts(1))
	}
}

func TestRetryingSenderMaxWait(t *testing.T) {
	mem := NewMemorySender()
	mem.Fail = func(int64, int) error { return &RateLimitError{RetryAfter: time.Hour} }
	s, slept := newTestRetrying(mem, 5, time.Minute)

	if err := s.Send(context.Background(), 1, "hi"); !IsRateLimit(err) {
		t.Fatalf("Send() error = %v, want rate limit", err)
	}
	if mem.Attempts(1) != 1 || len(*slept) != 0 {
		t.Errorf("attempts = %d, slept = %v; want 1 and no sleep", mem.Attempts(1), *slept)
	}
}

func TestRetryingSenderDropsOtherErrors(t *testing.T) {
	mem := NewMemorySender()
	mem.Fail = func(int64, int) error { return &APIError{Code: 403, Description: "bot was blocked by the user"} }
	s, _ := newTestRetrying(mem, 5, time.Minute)

	err := s.Send(context.Background(), 1, "hi")
	if !errors.Is(err, ErrDropped) {
		t.Fatalf("Send() error = %v, want ErrDropped", err)
	}
	if mem.Attempts(1) != 1 {
		t.Errorf("attempts = %d, want 1", mem.Attempts(1))
	}
}

func TestTelegramSender(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		switch req.ChatID {
		case 1:
			w.Write([]byte(`{"ok":true,"result":{}}`))
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`))
		default:
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden"}`))
		}
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", srv.Client())
	ctx := context.Background()

	if err := s.Send(ctx, 1, "<b>hi</b>"); err != nil {
		t.Fatalf("Send(ok) error = %v", err)
	}

	err := s.Send(ctx, 2, "hi")
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != 7*time.Second {
		t.Fatalf("Send(429) error = %v, want RateLimitError 7s", err)
	}

	err = s.Send(ctx, 3, "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 403 {
		t.Fatalf("Send(403) error = %v, want APIError 403", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
