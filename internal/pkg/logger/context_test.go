package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextAttributesAreLogged(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo).With(slog.String("module", "test"))

	ctx := WithAttrs(context.Background(), slog.String("acquisition_id", "abc"))
	ctx = WithAttrs(ctx, slog.Int("attempt", 2))

	log.InfoContext(ctx, "checking mailbox", slog.Any("error", errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, "module=test")
	assert.Contains(t, out, "acquisition_id=abc")
	assert.Contains(t, out, "attempt=2")
	assert.Contains(t, out, "error=boom")
}

func TestWithAttrsDoesNotShareParentSlice(t *testing.T) {
	parent := WithAttrs(context.Background(), slog.String("a", "1"))
	first := WithAttrs(parent, slog.String("b", "2"))
	second := WithAttrs(parent, slog.String("c", "3"))

	firstAttrs := first.Value(ctxKey{}).([]slog.Attr)
	secondAttrs := second.Value(ctxKey{}).([]slog.Attr)

	assert.Equal(t, "b", firstAttrs[1].Key)
	assert.Equal(t, "c", secondAttrs[1].Key)
}
