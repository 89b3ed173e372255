package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
)

func TestEncodeStoryReport(t *testing.T) {
	t.Parallel()

	msg, err := Encode(crawler.StoryReport{CycleID: "c1", Iteration: 4, StoryID: 99, Comments: 10, Refs: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cycle_id":"c1","iteration":4,"story_id":99,"comments":10,"refs":2}`, string(msg.Data))
	assert.Equal(t, map[string]string{"story_id": "99", "iteration": "4", "cycle_id": "c1"}, msg.Attributes)
}

func TestEncodeOtherPayload(t *testing.T) {
	t.Parallel()

	msg, err := Encode(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(msg.Data))
	assert.Empty(t, msg.Attributes)

	_, err = Encode(make(chan int))
	assert.Error(t, err)
}
