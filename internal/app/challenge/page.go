package challenge

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Page.Find when nothing matches the path in time.
var ErrNotFound = errors.New("element not found")

// Path locates an element possibly nested in frames and shadow roots.
// Each step is a driver specific selector evaluated inside the element
// found by the previous step.
type Path []string

// Page is the browser tab capability set needed to resolve a challenge.
type Page interface {
	Find(ctx context.Context, path Path, timeout time.Duration) (Element, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

type Element interface {
	Click(ctx context.Context) error
	Text(ctx context.Context) (string, error)
}

// Indicator is a page element whose presence proves the challenge passed.
type Indicator struct {
	Stage Stage
	Path  Path
}

// DefaultWidgetPath walks from the widget container through its shadow
// root and iframe down to the checkbox input.
var DefaultWidgetPath = Path{"@id=cf-turnstile", "shadow:", "tag:iframe", "tag:body", "shadow:", "tag:input"}

// DefaultIndicators cover the stages a sign-up flow may land on
// right after the challenge.
var DefaultIndicators = []Indicator{
	{Stage: StagePassword, Path: Path{"@name=password"}},
	{Stage: StageCaptcha, Path: Path{"@data-index=0"}},
	{Stage: StageAccount, Path: Path{"text:Account Settings"}},
}
