package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInterviewerFragmentsMerge 连续的面试官片段合并为单条目
func TestInterviewerFragmentsMerge(t *testing.T) {
	log := NewLog()

	log.AppendInterviewerFragment("Hel")
	log.AppendInterviewerFragment("lo")
	log.AppendInterviewerFragment(" there")

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, SpeakerInterviewer, entries[0].Speaker)
	assert.Equal(t, "Hello there", entries[0].Text)
}

// TestCandidateInterruptsInterviewer 候选人发言关闭面试官条目
func TestCandidateInterruptsInterviewer(t *testing.T) {
	log := NewLog()

	log.AppendInterviewerFragment("Hi")
	log.AppendCandidate("Nice to meet you")
	log.AppendInterviewerFragment("Go on")

	entries := log.Entries()
	require.Len(t, entries, 3)

	assert.Equal(t, SpeakerInterviewer, entries[0].Speaker)
	assert.Equal(t, "Hi", entries[0].Text)
	assert.Equal(t, SpeakerCandidate, entries[1].Speaker)
	assert.Equal(t, "Nice to meet you", entries[1].Text)
	assert.Equal(t, SpeakerInterviewer, entries[2].Speaker)
	assert.Equal(t, "Go on", entries[2].Text)
}

// TestCandidateAlwaysNewEntry 候选人发言总是新条目
func TestCandidateAlwaysNewEntry(t *testing.T) {
	log := NewLog()

	log.AppendCandidate("first answer")
	log.AppendCandidate("second answer")

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "first answer", entries[0].Text)
	assert.Equal(t, "second answer", entries[1].Text)
}

// TestEntriesReturnsCopy 快照修改不影响日志
func TestEntriesReturnsCopy(t *testing.T) {
	log := NewLog()
	log.AppendCandidate("original")

	entries := log.Entries()
	entries[0].Text = "mutated"

	assert.Equal(t, "original", log.Entries()[0].Text)
	assert.Equal(t, 1, log.Len())
}
