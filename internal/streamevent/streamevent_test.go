package streamevent

import "testing"

func ptr[T any](v T) *T { return &v }

func TestParse_TextDelta(t *testing.T) {
	line := `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"hello"}}}`
	evt, ok := Parse(line)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if evt.Kind != KindTextDelta {
		t.Fatalf("Kind = %v, want KindTextDelta", evt.Kind)
	}
	if evt.Text != "hello" {
		t.Errorf("Text = %q, want %q", evt.Text, "hello")
	}
}

func TestParse_TextDelta_EmptyTextReturnsNil(t *testing.T) {
	line := `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":""}}}`
	if _, ok := Parse(line); ok {
		t.Fatal("expected ok=false for empty delta text")
	}
}

func TestParse_StreamEvent_WrongInnerShape(t *testing.T) {
	cases := []string{
		`{"type":"stream_event","event":{"type":"content_block_start","delta":{"type":"text_delta","text":"x"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"input_json_delta","text":"x"}}}`,
	}
	for _, line := range cases {
		if _, ok := Parse(line); ok {
			t.Errorf("Parse(%q) ok=true, want false", line)
		}
	}
}

func TestParse_Result_FullFields(t *testing.T) {
	line := `{"type":"result","result":"hi","session_id":"abc","cost_usd":0.01,"usage":{"input_tokens":10,"output_tokens":5}}`
	evt, ok := Parse(line)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if evt.Kind != KindResult {
		t.Fatalf("Kind = %v, want KindResult", evt.Kind)
	}
	if evt.ResultText != "hi" {
		t.Errorf("ResultText = %q, want %q", evt.ResultText, "hi")
	}
	if evt.SessionID == nil || *evt.SessionID != "abc" {
		t.Errorf("SessionID = %v, want abc", evt.SessionID)
	}
	if evt.Cost == nil || *evt.Cost != 0.01 {
		t.Errorf("Cost = %v, want 0.01", evt.Cost)
	}
	if evt.Tokens == nil || *evt.Tokens != 15 {
		t.Errorf("Tokens = %v, want 15", evt.Tokens)
	}
}

func TestParse_Result_CostFallsBackToTotalCost(t *testing.T) {
	line := `{"type":"result","result":"hi","total_cost_usd":0.02}`
	evt, ok := Parse(line)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if evt.Cost == nil || *evt.Cost != 0.02 {
		t.Errorf("Cost = %v, want 0.02", evt.Cost)
	}
}

func TestParse_Result_NoUsageMeansNilTokens(t *testing.T) {
	line := `{"type":"result","result":"hi"}`
	evt, ok := Parse(line)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if evt.Tokens != nil {
		t.Errorf("Tokens = %v, want nil", evt.Tokens)
	}
	if evt.Cost != nil {
		t.Errorf("Cost = %v, want nil", evt.Cost)
	}
	if evt.SessionID != nil {
		t.Errorf("SessionID = %v, want nil", evt.SessionID)
	}
}

func TestParse_UserReceipt(t *testing.T) {
	evt, ok := Parse(`{"type":"user","message":{"role":"user","content":"ack"}}`)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if evt.Kind != KindUserReceipt {
		t.Fatalf("Kind = %v, want KindUserReceipt", evt.Kind)
	}
}

func TestParse_EmptyAndWhitespaceLines(t *testing.T) {
	for _, line := range []string{"", "   ", "\t\n"} {
		if _, ok := Parse(line); ok {
			t.Errorf("Parse(%q) ok=true, want false", line)
		}
	}
}

func TestParse_TruncatedJSON(t *testing.T) {
	if _, ok := Parse(`{"type":"result","result":"hi"`); ok {
		t.Fatal("expected ok=false for truncated JSON")
	}
}

func TestParse_UnknownType(t *testing.T) {
	if _, ok := Parse(`{"type":"system_init"}`); ok {
		t.Fatal("expected ok=false for unrecognized type")
	}
}

func TestParse_NeverPanics(t *testing.T) {
	inputs := []string{
		"not json at all",
		"{}",
		`{"type":123}`,
		`{"type":"result","usage":"not an object"}`,
		`null`,
		`[]`,
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Parse(%q) panicked: %v", in, r)
				}
			}()
			Parse(in)
		}()
	}
}
