package mask

import (
	"strings"
	"testing"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/metrics"
)

func newTestMasker() *Masker {
	return New(metrics.New())
}

func TestMaskText_CPF(t *testing.T) {
	m := newTestMasker()

	// Formatted
	masked, tags, err := m.MaskText("Meu CPF é 123.456.789-01")
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	if !strings.Contains(masked, "***.***.***-01") {
		t.Errorf("masked = %q, want CPF suffix kept", masked)
	}
	if !hasTag(tags, "cpf") {
		t.Errorf("tags = %v, want cpf", tags)
	}

	// Unformatted
	masked, _, err = m.MaskText("CPF: 12345678901")
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	if !strings.Contains(masked, "***.***.***-01") {
		t.Errorf("masked = %q, want ***.***.***-01", masked)
	}
}

func TestMaskText_Email(t *testing.T) {
	m := newTestMasker()

	masked, tags, err := m.MaskText("Meu email é joao@exemplo.com")
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	if !strings.Contains(masked, "j***@exemplo.com") {
		t.Errorf("masked = %q, want j***@exemplo.com", masked)
	}
	if !hasTag(tags, "email") {
		t.Errorf("tags = %v, want email", tags)
	}

	// Single-character local part keeps its first character
	masked, _, err = m.MaskText("a@b.co")
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	if masked != "a***@b.co" {
		t.Errorf("masked = %q, want a***@b.co", masked)
	}
}

func TestMaskText_Phone(t *testing.T) {
	m := newTestMasker()

	masked, _, err := m.MaskText("Telefone: (11) 99999-1234")
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	if !strings.Contains(masked, "(***) ***-1234") {
		t.Errorf("masked = %q, want last four digits kept", masked)
	}

	masked, _, err = m.MaskText("+55 11 99999-1234")
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	if !strings.Contains(masked, "(***) ***-1234") {
		t.Errorf("masked = %q, want (***) ***-1234", masked)
	}
}

func TestMaskText_CreditCard(t *testing.T) {
	m := newTestMasker()

	for _, text := range []string{
		"Card: 1234 5678 9012 3456",
		"1234-5678-9012-3456",
		"1234567890123456",
	} {
		masked, tags, err := m.MaskText(text)
		if err != nil {
			t.Fatalf("MaskText(%q) error = %v", text, err)
		}
		if !strings.Contains(masked, "**** **** **** 3456") {
			t.Errorf("MaskText(%q) = %q, want **** **** **** 3456", text, masked)
		}
		if !hasTag(tags, "credit_card") {
			t.Errorf("MaskText(%q) tags = %v, want credit_card", text, tags)
		}
	}
}

func TestMaskText_RG(t *testing.T) {
	m := newTestMasker()

	masked, _, err := m.MaskText("RG: 12.345.678-9")
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	if masked != "RG: **.***.***-*" {
		t.Errorf("masked = %q, want RG: **.***.***-*", masked)
	}
}

func TestMaskText_CNPJ(t *testing.T) {
	m := newTestMasker()

	masked, _, err := m.MaskText("CNPJ: 12.345.678/0001-90")
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	if masked != "CNPJ: **.***.***/****-**" {
		t.Errorf("masked = %q, want CNPJ: **.***.***/****-**", masked)
	}
}

func TestMaskText_PasswordAssignment(t *testing.T) {
	m := newTestMasker()

	tests := []struct {
		in   string
		want string
	}{
		{"password: hunter2", "password: ********"},
		{"senha = minhasenha123", "senha = ********"},
		{"PWD=s3cr3t!", "PWD=********"},
	}
	for _, tt := range tests {
		masked, tags, err := m.MaskText(tt.in)
		if err != nil {
			t.Fatalf("MaskText(%q) error = %v", tt.in, err)
		}
		if masked != tt.want {
			t.Errorf("MaskText(%q) = %q, want %q", tt.in, masked, tt.want)
		}
		if !hasTag(tags, "password") {
			t.Errorf("MaskText(%q) tags = %v, want password", tt.in, tags)
		}
		if !hasTag(tags, TagSensitiveKeyword) {
			t.Errorf("MaskText(%q) tags = %v, want %s", tt.in, tags, TagSensitiveKeyword)
		}
	}
}

func TestMaskText_MultiplePatterns(t *testing.T) {
	m := newTestMasker()

	text := "CPF: 123.456.789-01 Email: test@test.com Telefone: +55 11 99999-1234"
	masked, tags, err := m.MaskText(text)
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}

	if !strings.Contains(masked, "***.***.***-01") {
		t.Errorf("masked = %q, want CPF redacted", masked)
	}
	if !strings.Contains(masked, "t***@test.com") {
		t.Errorf("masked = %q, want email redacted", masked)
	}
	if !strings.Contains(masked, "(***) ***-1234") {
		t.Errorf("masked = %q, want phone redacted", masked)
	}

	// Tags follow table order
	want := []string{"cpf", "email", "phone"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tags[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestMaskText_SentenceWithCPFAndEmail(t *testing.T) {
	m := newTestMasker()

	masked, _, err := m.MaskText("my CPF is 123.456.789-01 and email a@b.co")
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	want := "my CPF is ***.***.***-01 and email a***@b.co"
	if masked != want {
		t.Errorf("masked = %q, want %q", masked, want)
	}
}

func TestMaskText_Idempotent(t *testing.T) {
	m := newTestMasker()

	inputs := []string{
		"my CPF is 123.456.789-01 and email a@b.co",
		"Card: 1234 5678 9012 3456",
		"password: hunter2",
		"Telefone: (11) 99999-1234",
		"RG 12.345.678-9 CNPJ 12.345.678/0001-90",
		"plain text, nothing sensitive",
		"",
	}
	for _, in := range inputs {
		once, _, err := m.MaskText(in)
		if err != nil {
			t.Fatalf("MaskText(%q) error = %v", in, err)
		}
		twice, _, err := m.MaskText(once)
		if err != nil {
			t.Fatalf("MaskText(MaskText(%q)) error = %v", in, err)
		}
		if twice != once {
			t.Errorf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestMaskText_NoPatterns(t *testing.T) {
	m := newTestMasker()

	text := "This is just regular text with no sensitive data"
	masked, tags, err := m.MaskText(text)
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	if masked != text {
		t.Errorf("masked = %q, want unchanged", masked)
	}
	if len(tags) != 0 {
		t.Errorf("tags = %v, want none", tags)
	}
}

func TestMaskText_Empty(t *testing.T) {
	m := newTestMasker()

	masked, tags, err := m.MaskText("")
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	if masked != "" || len(tags) != 0 {
		t.Errorf("MaskText(\"\") = (%q, %v), want (\"\", none)", masked, tags)
	}
}

func TestMaskText_TooLarge(t *testing.T) {
	m := newTestMasker()

	_, _, err := m.MaskText(strings.Repeat("a", MaxTextLen+1))
	if err == nil {
		t.Fatal("MaskText() expected error for oversized input")
	}
	if !keyerrors.Is(err, keyerrors.ErrInvalidQuery) {
		t.Errorf("error = %v, want INVALID_QUERY", err)
	}
}

func TestMaskText_CacheStable(t *testing.T) {
	m := newTestMasker()

	in := "Email: someone@example.com"
	first, firstTags, err := m.MaskText(in)
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	second, secondTags, err := m.MaskText(in)
	if err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}
	if first != second {
		t.Errorf("cached result differs: %q vs %q", first, second)
	}
	if len(firstTags) != len(secondTags) {
		t.Errorf("cached tags differ: %v vs %v", firstTags, secondTags)
	}
}

func TestStatus(t *testing.T) {
	m := newTestMasker()

	if _, _, err := m.MaskText("CPF: 123.456.789-01"); err != nil {
		t.Fatalf("MaskText() error = %v", err)
	}

	status := m.Status()
	if len(status) != 7 {
		t.Fatalf("Status() length = %d, want 7", len(status))
	}
	byName := make(map[string]PatternStatus)
	for _, s := range status {
		if !s.Enabled {
			t.Errorf("pattern %s disabled, want enabled", s.Name)
		}
		byName[s.Name] = s
	}
	if byName["cpf"].Hits < 1 {
		t.Errorf("cpf hits = %d, want >= 1", byName["cpf"].Hits)
	}
	if byName["cnpj"].Hits != 0 {
		t.Errorf("cnpj hits = %d, want 0", byName["cnpj"].Hits)
	}
}

func TestMaskChunk_WindowFieldsRedacted(t *testing.T) {
	m := newTestMasker()

	ev, err := m.MaskChunk(Chunk{
		TS:          1000,
		Text:        "hello world",
		Application: "thunderbird",
		WindowTitle: "Inbox - joao@exemplo.com - Mail",
		Kind:        KindText,
	})
	if err != nil {
		t.Fatalf("MaskChunk() error = %v", err)
	}
	if ev.Content != "hello world" {
		t.Errorf("Content = %q, want unchanged", ev.Content)
	}
	if !strings.Contains(ev.WindowTitle, "j***@exemplo.com") {
		t.Errorf("WindowTitle = %q, want email redacted", ev.WindowTitle)
	}
	if !hasTag(ev.Tags, "email") {
		t.Errorf("Tags = %v, want email", ev.Tags)
	}
	if ev.TS != 1000 || ev.Kind != KindText {
		t.Errorf("TS/Kind = %d/%s, want 1000/%s", ev.TS, ev.Kind, KindText)
	}
}

func TestChunker_BoundaryKeyClosesRun(t *testing.T) {
	c := NewChunker(0)

	var chunks []Chunk
	chunks = append(chunks, c.Add(Keystroke{TS: 1, Fragment: "h", Application: "code", WindowTitle: "main.go"})...)
	chunks = append(chunks, c.Add(Keystroke{TS: 2, Fragment: "i", Application: "code", WindowTitle: "main.go"})...)
	chunks = append(chunks, c.Add(Keystroke{TS: 3, Key: "Return", Application: "code", WindowTitle: "main.go"})...)

	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Text != "hi" {
		t.Errorf("Text = %q, want hi", chunks[0].Text)
	}
	if chunks[0].TS != 1 {
		t.Errorf("TS = %d, want first fragment ts 1", chunks[0].TS)
	}
	if chunks[0].Kind != KindText {
		t.Errorf("Kind = %q, want %q", chunks[0].Kind, KindText)
	}
}

func TestChunker_WindowChangeClosesRun(t *testing.T) {
	c := NewChunker(0)

	c.Add(Keystroke{TS: 1, Fragment: "a", Application: "code", WindowTitle: "one"})
	chunks := c.Add(Keystroke{TS: 2, Fragment: "b", Application: "browser", WindowTitle: "two"})

	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Text != "a" || chunks[0].Application != "code" {
		t.Errorf("chunk = %+v, want text a from code", chunks[0])
	}

	final, ok := c.Flush()
	if !ok {
		t.Fatal("Flush() returned no chunk")
	}
	if final.Text != "b" || final.Application != "browser" {
		t.Errorf("final = %+v, want text b from browser", final)
	}
}

func TestChunker_ByteCapClosesRun(t *testing.T) {
	c := NewChunker(4)

	var chunks []Chunk
	for i, f := range []string{"a", "b", "c", "d", "e"} {
		chunks = append(chunks, c.Add(Keystroke{TS: int64(i + 1), Fragment: f})...)
	}

	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Text != "abcd" {
		t.Errorf("Text = %q, want abcd", chunks[0].Text)
	}

	rest, ok := c.Flush()
	if !ok || rest.Text != "e" {
		t.Errorf("Flush() = (%+v, %v), want text e", rest, ok)
	}
	if rest.TS != 5 {
		t.Errorf("TS = %d, want 5", rest.TS)
	}
}

func TestChunker_EmitKeyPreservesOrder(t *testing.T) {
	c := NewChunker(0)

	c.Add(Keystroke{TS: 1, Fragment: "x", Application: "code"})
	chunks := c.Add(Keystroke{TS: 2, Key: "F5", EmitKey: true, Application: "code"})

	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2 (flushed run, then key)", len(chunks))
	}
	if chunks[0].Text != "x" || chunks[0].Kind != KindText {
		t.Errorf("chunks[0] = %+v, want run x", chunks[0])
	}
	if chunks[1].Text != "F5" || chunks[1].Kind != KindKey {
		t.Errorf("chunks[1] = %+v, want key F5", chunks[1])
	}
	if chunks[1].TS != 2 {
		t.Errorf("key TS = %d, want 2", chunks[1].TS)
	}
}

func TestChunker_FlushIfIdle(t *testing.T) {
	c := NewChunker(0)

	c.Add(Keystroke{TS: 1000, Fragment: "q"})

	if _, ok := c.FlushIfIdle(3000, 5000); ok {
		t.Error("FlushIfIdle() flushed before idle threshold")
	}
	ch, ok := c.FlushIfIdle(6001, 5000)
	if !ok {
		t.Fatal("FlushIfIdle() did not flush after idle threshold")
	}
	if ch.Text != "q" {
		t.Errorf("Text = %q, want q", ch.Text)
	}
	if _, ok := c.FlushIfIdle(9000, 5000); ok {
		t.Error("FlushIfIdle() flushed an empty run")
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
