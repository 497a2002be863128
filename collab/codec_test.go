package collab

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtract_NoBlock(t *testing.T) {
	res := Extract("just a plain reply")

	if res.HasState {
		t.Error("expected HasState=false for text without a block")
	}
	if res.CleanText != "just a plain reply" {
		t.Errorf("CleanText = %q, want original text", res.CleanText)
	}
	if res.ParseErr != nil {
		t.Errorf("ParseErr = %v, want nil", res.ParseErr)
	}
}

func TestExtract_WellFormed(t *testing.T) {
	text := "Happy to dig into that.\n<collab_state>{\"phase\":\"explore\",\"overlap_score\":0.7,\"turn_count\":3,\"active_threads\":[\"a\",\"b\"],\"close_signal\":false,\"confidence\":0.9}</collab_state>"

	res := Extract(text)

	if !res.HasState {
		t.Fatalf("HasState = false, ParseErr = %v", res.ParseErr)
	}
	if res.CleanText != "Happy to dig into that." {
		t.Errorf("CleanText = %q", res.CleanText)
	}
	if res.State.Phase != PhaseExplore {
		t.Errorf("Phase = %q, want explore", res.State.Phase)
	}
	if res.State.OverlapScore != 0.7 {
		t.Errorf("OverlapScore = %v, want 0.7", res.State.OverlapScore)
	}
	if res.State.TurnCount != 3 {
		t.Errorf("TurnCount = %d, want 3", res.State.TurnCount)
	}
	if len(res.State.ActiveThreads) != 2 {
		t.Errorf("ActiveThreads = %v", res.State.ActiveThreads)
	}
}

func TestExtract_Normalization(t *testing.T) {
	text := `x<collab_state>{"phase":"weird","overlap_score":3.5,"turn_count":-2,"open_questions":["1","2","3","4","5","6"],"confidence":-1}</collab_state>`

	res := Extract(text)

	if !res.HasState {
		t.Fatalf("HasState = false, ParseErr = %v", res.ParseErr)
	}
	if res.State.Phase != "" {
		t.Errorf("unknown phase should be dropped, got %q", res.State.Phase)
	}
	if res.State.OverlapScore != 1 {
		t.Errorf("OverlapScore = %v, want clamped to 1", res.State.OverlapScore)
	}
	if res.State.TurnCount != 0 {
		t.Errorf("TurnCount = %d, want 0 for negative input", res.State.TurnCount)
	}
	if len(res.State.OpenQuestions) != 4 {
		t.Errorf("OpenQuestions truncated to %d, want 4", len(res.State.OpenQuestions))
	}
	if res.State.Confidence != 0 {
		t.Errorf("Confidence = %v, want clamped to 0", res.State.Confidence)
	}
}

func TestExtract_RejectsArray(t *testing.T) {
	res := Extract(`visible<collab_state>[1,2,3]</collab_state>`)

	if res.HasState {
		t.Error("array body must not produce state")
	}
	if res.ParseErr == nil {
		t.Error("expected ParseErr for array body")
	}
	if res.CleanText != "visible" {
		t.Errorf("CleanText = %q, want %q", res.CleanText, "visible")
	}
}

func TestExtract_MalformedJSON(t *testing.T) {
	res := Extract(`reply<collab_state>{not json}</collab_state>`)

	if res.HasState {
		t.Error("malformed body must not produce state")
	}
	if res.ParseErr == nil {
		t.Error("expected ParseErr")
	}
	if res.CleanText != "reply" {
		t.Errorf("CleanText = %q, want visible text preserved", res.CleanText)
	}
}

func TestExtract_Unterminated(t *testing.T) {
	res := Extract("reply\n<collab_state>{\"phase\":\"close\"")

	if res.HasState {
		t.Error("unterminated block must not produce state")
	}
	if res.CleanText != "reply" {
		t.Errorf("CleanText = %q, want block stripped", res.CleanText)
	}
}

func TestExtract_WrongFieldTypes(t *testing.T) {
	res := Extract(`ok<collab_state>{"phase":12,"close_signal":"yes","turn_count":"three"}</collab_state>`)

	if !res.HasState {
		t.Fatalf("type errors on individual fields should not reject the block: %v", res.ParseErr)
	}
	if res.State.Phase != "" || res.State.CloseSignal || res.State.TurnCount != 0 {
		t.Errorf("unexpected state %+v", res.State)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	in := &State{
		Phase:        PhaseSynthesize,
		OverlapScore: 0.4,
		TurnCount:    9,
		CloseSignal:  true,
		Confidence:   0.8,
	}

	res := Extract("text " + Encode(in))
	if !res.HasState {
		t.Fatalf("round trip lost state: %v", res.ParseErr)
	}
	if !reflect.DeepEqual(res.State, in) {
		t.Errorf("round trip = %+v, want %+v", res.State, in)
	}
	if !strings.HasPrefix(Encode(in), "<collab_state>{") {
		t.Errorf("Encode output malformed: %q", Encode(in))
	}
}
