package provider

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/fcs7/translate-php-tool/internal/domain"
)

// Shell shells out to translate-shell (the trans binary), the last-ditch
// backend. translate-shell swallows Google's throttling and echoes the input
// back unchanged, so an identity result here is recorded as a rate-limit
// failure rather than an ordinary one.
const shellRequestTimeout = 8 * time.Second

// Shell translates by running trans -b en:pt-br <text>.
type Shell struct {
	*State
	binary string
}

// NewShell creates the provider.
func NewShell(maxRPM int) *Shell {
	return &Shell{
		State:  NewState("shell", maxRPM),
		binary: "trans",
	}
}

// SetBinary overrides the executable name (tests).
func (s *Shell) SetBinary(name string) { s.binary = name }

// IsAvailable checks that the trans binary is on PATH.
func (s *Shell) IsAvailable() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

// Status derives availability from PATH and the cooldown state.
func (s *Shell) Status() domain.ProviderStatus { return s.statusWith(s.IsAvailable()) }

// Stats returns the counters snapshot.
func (s *Shell) Stats() domain.ProviderStats { return s.statsWith(s.IsAvailable()) }

// Translate runs one trans invocation with an 8s budget.
func (s *Shell) Translate(ctx context.Context, text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return text, true
	}

	ctx, cancel := context.WithTimeout(ctx, shellRequestTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, s.binary, "-b", "en:pt-br", text).Output()
	if err != nil {
		s.RecordFailure(err.Error(), false)
		return "", false
	}

	translated := strings.TrimSpace(string(out))
	if translated == "" {
		s.RecordFailure("empty output", false)
		return "", false
	}
	if noopTranslation(text, translated) {
		// trans exits zero and echoes the input when Google throttles it.
		s.RecordFailure("output identical to input (silent throttle)", true)
		return "", false
	}

	s.RecordSuccess()
	return translated, true
}

// TranslateBatch runs invocations sequentially; one process per text is
// expensive enough that parallelism buys nothing here.
func (s *Shell) TranslateBatch(ctx context.Context, texts []string) ([]string, []bool) {
	results := make([]string, len(texts))
	ok := make([]bool, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = text
			ok[i] = true
			continue
		}
		if ctx.Err() != nil {
			break
		}
		results[i], ok[i] = s.Translate(ctx, text)
		if !ok[i] && s.InCooldown() {
			break
		}
	}
	return results, ok
}
