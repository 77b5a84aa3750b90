package challenge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Capturer stores a diagnostic snapshot of the page on entering a state.
type Capturer interface {
	Capture(ctx context.Context, page Page, state State) error
}

type CapturerFunc func(ctx context.Context, page Page, state State) error

func (f CapturerFunc) Capture(ctx context.Context, page Page, state State) error {
	return f(ctx, page, state)
}

// FileCapturer writes PNG screenshots named turnstile_<state>_<unix>.png into Dir.
type FileCapturer struct {
	Dir string
	Now func() time.Time
}

func (c FileCapturer) Capture(ctx context.Context, page Page, state State) error {
	image, err := page.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("take screenshot: %w", err)
	}

	if err = os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create screenshot directory: %w", err)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	name := filepath.Join(c.Dir, fmt.Sprintf("turnstile_%s_%d.png", state, now().Unix()))
	if err = os.WriteFile(name, image, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}

	return nil
}
