package audiosource

import "testing"

func TestBytesToFloat32(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected int
	}{
		{"empty", []byte{}, 0},
		{"4 bytes = 1 float", []byte{0, 0, 0, 0}, 1},
		{"8 bytes = 2 floats", []byte{0, 0, 0, 0, 0, 0, 128, 63}, 2}, // 0.0 and 1.0
		{"invalid length", []byte{0, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := bytesToFloat32(tt.input)
			if len(result) != tt.expected {
				t.Errorf("bytesToFloat32 returned %d floats, want %d", len(result), tt.expected)
			}
		})
	}
}

func TestBytesToFloat32Values(t *testing.T) {
	// little-endian encoding of 1.0f32 followed by 0.0f32
	input := []byte{0, 0, 128, 63, 0, 0, 0, 0}
	got := bytesToFloat32(input)
	if len(got) != 2 {
		t.Fatalf("expected 2 floats, got %d", len(got))
	}
	if got[0] != 1.0 || got[1] != 0.0 {
		t.Errorf("got %v, want [1.0 0.0]", got)
	}
}

func TestOutputChannelBackpressure(t *testing.T) {
	bufferSize := 4
	ch := make(chan Chunk, bufferSize)

	for i := 0; i < bufferSize; i++ {
		select {
		case ch <- Chunk{Data: []float32{0.0}}:
		default:
			t.Fatalf("channel blocked at item %d, expected buffer of %d", i, bufferSize)
		}
	}

	select {
	case ch <- Chunk{Data: []float32{0.0}}:
		t.Error("channel should have been full")
	default:
	}
}

func TestCapturerDropCount(t *testing.T) {
	c := &Capturer{outCh: make(chan Chunk, 1)}
	c.outCh <- Chunk{Data: []float32{0}}

	select {
	case c.outCh <- Chunk{Data: []float32{0}}:
		t.Fatal("expected channel full")
	default:
		c.dropCount.Add(1)
	}

	if c.DroppedChunks() != 1 {
		t.Errorf("expected 1 dropped chunk, got %d", c.DroppedChunks())
	}
}

func TestCapturerStopIdempotent(t *testing.T) {
	c := &Capturer{}
	c.Stop()
	c.Stop() // must not panic on double-stop with no device
}
