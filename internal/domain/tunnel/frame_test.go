package tunnel

import "testing"

func TestFrame_MarshalUnmarshalRoundTrip(t *testing.T) {
	f := &Frame{
		Type:               FrameRequest,
		ID:                 "req-1",
		Method:             "GET",
		Path:               "/healthz",
		Headers:            map[string][]string{"Accept": {"application/json"}},
		Port:               8080,
		TimestampUnixMilli: 1234,
	}

	data, err := f.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != f.Type || got.ID != f.ID || got.Method != f.Method || got.Path != f.Path || got.Port != f.Port {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestFrame_DataChunkRoundTrip(t *testing.T) {
	f := &Frame{Type: FrameData, ID: "req-1", Data: []byte("hello world"), Final: true}

	data, err := f.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(got.Data) != "hello world" || !got.Final {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestFrame_AuthAndErrorTypes(t *testing.T) {
	auth := &Frame{Type: FrameAuth, Token: "jwt-token"}
	data, err := auth.Marshal()
	if err != nil {
		t.Fatalf("marshal auth: %v", err)
	}
	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal auth: %v", err)
	}
	if got.Type != FrameAuth || got.Token != "jwt-token" {
		t.Fatalf("unexpected auth frame: %+v", got)
	}

	errFrame := &Frame{Type: FrameError, ID: "req-1", Error: "upstream unreachable"}
	data, err = errFrame.Marshal()
	if err != nil {
		t.Fatalf("marshal error frame: %v", err)
	}
	got, err = UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal error frame: %v", err)
	}
	if got.Type != FrameError || got.Error != "upstream unreachable" {
		t.Fatalf("unexpected error frame: %+v", got)
	}
}

func TestUnmarshalFrame_Malformed(t *testing.T) {
	if _, err := UnmarshalFrame([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}
