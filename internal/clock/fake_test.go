package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)
	tk := c.NewTicker(time.Minute)
	defer tk.Stop()

	select {
	case <-tk.C:
		t.Fatal("ticker fired before advance")
	default:
	}

	c.Advance(59 * time.Second)
	assert.Len(t, tk.C, 0)

	c.Advance(time.Second)
	require.Len(t, tk.C, 1)
	assert.Equal(t, start.Add(time.Minute), <-tk.C)
	assert.Equal(t, start.Add(time.Minute), c.Now())
}

func TestFakeTickerStopAndWait(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		c.WaitForTickers(1)
		close(done)
	}()
	tk := c.NewTicker(time.Second)
	<-done

	tk.Stop()
	c.Advance(time.Hour)
	assert.Len(t, tk.C, 0)
}
