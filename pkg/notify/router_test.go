package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMentionedUserIDs(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    []int64
	}{
		{"missing key", map[string]any{}, nil},
		{"int64 slice", map[string]any{"mentioned_user_ids": []int64{1, 2}}, []int64{1, 2}},
		{"json numbers", map[string]any{"mentioned_user_ids": []any{float64(3), float64(4)}}, []int64{3, 4}},
		{"wrong type", map[string]any{"mentioned_user_ids": "nope"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mentionedUserIDs(tt.payload))
		})
	}
}

func TestGroupByUser(t *testing.T) {
	rows := []DigestRow{
		{ID: 1, EventID: 10, UserID: 5},
		{ID: 2, EventID: 11, UserID: 5},
		{ID: 3, EventID: 12, UserID: 6},
	}

	batches := groupByUser(rows)
	assert.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, int64(5), batches[0][0].UserID)
	assert.Len(t, batches[1], 1)
	assert.Equal(t, int64(6), batches[1][0].UserID)

	assert.Equal(t, []int64{10, 11}, eventIDs(batches[0]))
	assert.Equal(t, []int64{1, 2}, notificationIDs(batches[0]))
}

func TestGroupByUserEmpty(t *testing.T) {
	assert.Nil(t, groupByUser(nil))
}
