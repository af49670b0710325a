package sizeof

import "testing"

func TestEstimate_Monotonic(t *testing.T) {
	small := Estimate("p1", make([]byte, 10))
	large := Estimate("p1", make([]byte, 1000))
	if large <= small {
		t.Errorf("Estimate(1000B) = %d, not greater than Estimate(10B) = %d", large, small)
	}
}

func TestEstimate_Deterministic(t *testing.T) {
	payload := []byte("project record payload")
	a := Estimate("proj-42", payload)
	b := Estimate("proj-42", payload)
	if a != b {
		t.Errorf("Estimate() not deterministic: %d != %d", a, b)
	}
}

func TestEstimate_NeverBelowPayload(t *testing.T) {
	payload := make([]byte, 512)
	if got := Estimate("id", payload); got < int64(len(payload)) {
		t.Errorf("Estimate() = %d, below payload length %d", got, len(payload))
	}
}
