package pipeline

import (
	"testing"

	"ScriptToMovie-server/models"

	"github.com/stretchr/testify/assert"
)

func TestSumClipDurations(t *testing.T) {
	clips := []models.GeneratedClip{
		{Duration: 5},
		{Duration: 10},
		{Duration: 10},
	}
	assert.Equal(t, 25, sumClipDurations(clips))
	assert.Equal(t, 0, sumClipDurations(nil))
}

func TestCleanDialogue(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "all caps speaker label",
			in:   "JOHN: We need to leave. Now.",
			want: "We need to leave. Now.",
		},
		{
			name: "capitalized name label",
			in:   "Narrator: The city slept.",
			want: "The city slept.",
		},
		{
			name: "multi word label",
			in:   "OLD MAN: Stay away from the pier.",
			want: "Stay away from the pier.",
		},
		{
			name: "multiple lines joined",
			in:   "ANNA: Where were you?\nMARK: Nowhere.\n\nANNA: Liar.",
			want: "Where were you? Nowhere. Liar.",
		},
		{
			name: "plain narration kept as is",
			in:   "The rain kept falling through the night.",
			want: "The rain kept falling through the night.",
		},
		{
			name: "colon inside sentence is not a label",
			in:   "the answer is simple: run.",
			want: "the answer is simple: run.",
		},
		{
			name: "timestamp prefix kept",
			in:   "10:30 the train departs.",
			want: "10:30 the train departs.",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
		{
			name: "whitespace only",
			in:   "   \n\t\n",
			want: "",
		},
		{
			name: "label with empty speech dropped",
			in:   "JOHN:\nThe door slammed.",
			want: "The door slammed.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanDialogue(tc.in))
		})
	}
}

func TestIsSpeakerLabel(t *testing.T) {
	assert.True(t, isSpeakerLabel("JOHN"))
	assert.True(t, isSpeakerLabel("OLD MAN"))
	assert.True(t, isSpeakerLabel("Narrator"))
	assert.True(t, isSpeakerLabel("Old man"))

	assert.False(t, isSpeakerLabel("the answer is simple"))
	assert.False(t, isSpeakerLabel("10"))
	assert.False(t, isSpeakerLabel("scene 4"))
	assert.False(t, isSpeakerLabel(""))
}
