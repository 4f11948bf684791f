package environment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListProvider(t *testing.T) {
	t.Parallel()
	p := NewListProvider([]string{"OPENAI_API_KEY=sk-test", "EMPTY="})

	v, ok := p.Get(context.Background(), "OPENAI_API_KEY")
	assert.True(t, ok)
	assert.Equal(t, "sk-test", v)

	v, ok = p.Get(context.Background(), "EMPTY")
	assert.True(t, ok)
	assert.Equal(t, "", v)

	_, ok = p.Get(context.Background(), "MISSING")
	assert.False(t, ok)
}

func TestMultiProviderFallsThrough(t *testing.T) {
	t.Parallel()
	first := NewListProvider([]string{"A=1"})
	second := NewListProvider([]string{"B=2"})
	p := NewMultiProvider(first, second)

	v, ok := p.Get(context.Background(), "B")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	_, ok = p.Get(context.Background(), "C")
	assert.False(t, ok)
}
