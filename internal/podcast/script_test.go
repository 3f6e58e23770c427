package podcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/aegis-query/internal/model"
)

func TestParseScript_RecognizesAllTagForms(t *testing.T) {
	raw := `HOST: Welcome to the show.
Host: Today we're talking about revenue.
H: Let's dive in.
[HOST]: One more thing.
[Host]: And another.
EXPERT: Glad to be here.
Expert: Revenue was strong.
E: Indeed.
[EXPERT]: To summarize.
[Expert]: Thanks for having me.`

	turns := ParseScript(raw)
	require.Len(t, turns, 10)
	for i := 0; i < 5; i++ {
		assert.Equal(t, model.SpeakerHost, turns[i].Speaker, "turn %d", i)
	}
	for i := 5; i < 10; i++ {
		assert.Equal(t, model.SpeakerExpert, turns[i].Speaker, "turn %d", i)
	}
}

func TestParseScript_ContinuationLinesAppendToPriorTurn(t *testing.T) {
	raw := "HOST: This is a long line\nthat wraps onto a second line.\nEXPERT: A reply."
	turns := ParseScript(raw)
	require.Len(t, turns, 2)
	assert.Equal(t, "This is a long line that wraps onto a second line.", turns[0].Text)
	assert.Equal(t, "A reply.", turns[1].Text)
}

func TestParseScript_CaseInsensitiveTags(t *testing.T) {
	raw := "host: lowercase host\nexpert: lowercase expert"
	turns := ParseScript(raw)
	require.Len(t, turns, 2)
	assert.Equal(t, model.SpeakerHost, turns[0].Speaker)
	assert.Equal(t, model.SpeakerExpert, turns[1].Speaker)
}

func TestParseScript_EmptyBodiesAreSkipped(t *testing.T) {
	raw := "HOST:\nEXPERT: has content"
	turns := ParseScript(raw)
	require.Len(t, turns, 1)
	assert.Equal(t, model.SpeakerExpert, turns[0].Speaker)
}

func TestParseScript_NoTagsProducesNoTurns(t *testing.T) {
	turns := ParseScript("just some plain text\nwith no speaker tags at all")
	assert.Empty(t, turns)
}

func TestValidateTurns_RequiresBothSpeakers(t *testing.T) {
	err := validateTurns([]model.ScriptTurn{{Speaker: model.SpeakerHost, Text: "hi"}})
	require.Error(t, err)

	err = validateTurns([]model.ScriptTurn{
		{Speaker: model.SpeakerHost, Text: "hi"},
		{Speaker: model.SpeakerExpert, Text: "hello"},
	})
	assert.NoError(t, err)
}

func TestValidateTurns_EmptyFails(t *testing.T) {
	err := validateTurns(nil)
	assert.Error(t, err)
}

func TestTranscript_RoundTripsSpeakerAndText(t *testing.T) {
	turns := []model.ScriptTurn{
		{Speaker: model.SpeakerHost, Text: "Welcome."},
		{Speaker: model.SpeakerExpert, Text: "Thanks."},
	}
	out := Transcript(turns)
	reparsed := ParseScript(out)
	require.Len(t, reparsed, 2)
	assert.Equal(t, turns, reparsed)
}
