package follower

import (
	"testing"
	"time"

	"github.com/hilthontt/readalong/pkg/clock"
	"github.com/stretchr/testify/assert"
)

type sent struct {
	position float64
	page     int
}

func TestDebouncerSendsLastPosition(t *testing.T) {
	fc := clock.NewFake(epoch)
	var got []sent
	d := NewDebouncer(DefaultDebounce, fc, func(p float64, page int) {
		got = append(got, sent{p, page})
	})

	d.Scrolled(10, 0)
	fc.Advance(50 * time.Millisecond)
	d.Scrolled(20, 0)
	fc.Advance(50 * time.Millisecond)
	d.Scrolled(30, 1)
	assert.Empty(t, got)

	fc.Advance(DefaultDebounce)
	assert.Equal(t, []sent{{30, 1}}, got)

	fc.Advance(time.Second)
	assert.Len(t, got, 1)
}

func TestDebouncerFlushAndStop(t *testing.T) {
	fc := clock.NewFake(epoch)
	var got []sent
	d := NewDebouncer(DefaultDebounce, fc, func(p float64, page int) {
		got = append(got, sent{p, page})
	})

	d.Scrolled(10, 0)
	d.Flush()
	assert.Equal(t, []sent{{10, 0}}, got)

	// nothing pending
	d.Flush()
	assert.Len(t, got, 1)

	d.Scrolled(20, 0)
	d.Stop()
	fc.Advance(time.Second)
	d.Scrolled(30, 0)
	fc.Advance(time.Second)
	assert.Len(t, got, 1)
	assert.Zero(t, fc.Pending())
}
