package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyIsStableAndDistinguishesParts(t *testing.T) {
	a := Key("chart", "sales by region", []string{"region", "sales"})
	b := Key("chart", "sales by region", []string{"region", "sales"})
	c := Key("chart", "sales by region", []string{"sales", "region"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "chart:")
}

func TestSetDefaultAndExpiry(t *testing.T) {
	c := New(time.Minute)
	c.SetDefault("k", 1)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	short := New(time.Millisecond)
	short.SetDefault("short", "x")
	time.Sleep(5 * time.Millisecond)
	_, ok = short.Get("short")
	assert.False(t, ok)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}
