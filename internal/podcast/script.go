// Package podcast implements C11: the podcast job runner — a
// QUEUED -> GENERATING(retrieval/script/parse/audio/store) ->
// COMPLETED/FAILED/CANCELLED state machine driven by a retrieval pass, a
// scripted dialogue generation, a fixed-grammar dialogue parser, per-turn
// TTS synthesis with inter-turn silence, and blob storage upload
// (spec.md §4.11).
//
// Grounded on other_examples/apresai-podcaster's tasks.go runPipeline
// (workdir lifecycle, progress callback, S3 upload, usage recording) and
// its script package's dialogue model, generalized from its Anthropic/
// Gemini CLI pipeline into this module's provider.LLM/provider.TTS
// contracts.
package podcast

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/connexus-ai/aegis-query/internal/apperr"
	"github.com/connexus-ai/aegis-query/internal/model"
)

// speakerTagRe matches a dialogue line's leading speaker tag in any of the
// grammar's recognized forms: "HOST:", "Host:", "H:", "[HOST]:", "[Host]:"
// (and the EXPERT analogs), case-insensitively (spec.md §4.11).
var speakerTagRe = regexp.MustCompile(`(?im)^\s*\[?(HOST|EXPERT|H|E)\]?\s*:\s*(.*)$`)

// ParseScript extracts ScriptTurn entries from a raw LLM-generated dialogue
// script. Lines that don't match the speaker-tag grammar are appended to
// the previous turn's text (a continuation line), matching how models
// sometimes wrap a single speaker's line across two lines.
func ParseScript(raw string) []model.ScriptTurn {
	var turns []model.ScriptTurn
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := speakerTagRe.FindStringSubmatch(line); m != nil {
			turns = append(turns, model.ScriptTurn{
				Speaker: speakerFromTag(m[1]),
				Text:    strings.TrimSpace(m[2]),
			})
			continue
		}
		if len(turns) > 0 {
			turns[len(turns)-1].Text = strings.TrimSpace(turns[len(turns)-1].Text + " " + strings.TrimSpace(line))
		}
	}
	return dropEmptyBodies(turns)
}

// dropEmptyBodies removes turns whose body never accumulated any text — the
// grammar allows an empty body (a bare speaker tag followed immediately by
// another tag), and spec.md §4.11 says these are "skipped" rather than
// treated as a parse failure.
func dropEmptyBodies(turns []model.ScriptTurn) []model.ScriptTurn {
	out := turns[:0]
	for _, t := range turns {
		if strings.TrimSpace(t.Text) != "" {
			out = append(out, t)
		}
	}
	return out
}

// validateTurns enforces spec.md §4.11's parse-stage invariant: at least one
// HOST and one EXPERT turn must be present, otherwise the job fails.
func validateTurns(turns []model.ScriptTurn) error {
	if len(turns) == 0 {
		return apperr.New(apperr.KindValidation, "no dialogue turns parsed from script", nil)
	}
	var hasHost, hasExpert bool
	for _, t := range turns {
		switch t.Speaker {
		case model.SpeakerHost:
			hasHost = true
		case model.SpeakerExpert:
			hasExpert = true
		}
	}
	if !hasHost || !hasExpert {
		return apperr.New(apperr.KindValidation, "script must contain at least one HOST and one EXPERT turn", nil)
	}
	return nil
}

func speakerFromTag(tag string) model.ScriptSpeaker {
	switch strings.ToUpper(tag) {
	case "HOST", "H":
		return model.SpeakerHost
	default:
		return model.SpeakerExpert
	}
}

// Transcript renders turns back into the plain-text transcript stored on
// the job record (spec.md §3: PodcastJob.Transcript).
func Transcript(turns []model.ScriptTurn) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(fmt.Sprintf("%s: %s\n", t.Speaker, t.Text))
	}
	return sb.String()
}
