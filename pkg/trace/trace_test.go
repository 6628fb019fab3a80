package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundtrip(t *testing.T) {
	ctx := WithContext(context.Background(), "abc123")
	assert.Equal(t, "abc123", FromContext(ctx))
}

func TestFromContextEmpty(t *testing.T) {
	assert.Equal(t, "", FromContext(context.Background()))
}

func TestGenerateTraceID(t *testing.T) {
	a := GenerateTraceID()
	b := GenerateTraceID()

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
