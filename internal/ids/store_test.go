package ids

import (
	"context"
	"strconv"
	"testing"
)

func TestGeneratePatientID_FiveDigits(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := GeneratePatientID()
		if len(id) != 5 {
			t.Fatalf("id %q is not five digits", id)
		}
		n, err := strconv.Atoi(id)
		if err != nil {
			t.Fatalf("id %q is not numeric: %v", id, err)
		}
		if n < 10000 || n > 99999 {
			t.Fatalf("id %d out of range", n)
		}
	}
}

func TestStore_NilClientErrors(t *testing.T) {
	s := NewStore(nil, "dictate:")

	if err := s.SetDoctorID(context.Background(), "station-1", "D100"); err == nil {
		t.Error("SetDoctorID succeeded without a client")
	}
	if _, err := s.Get(context.Background(), "station-1"); err == nil {
		t.Error("Get succeeded without a client")
	}
	if _, err := s.EnsurePatientID(context.Background(), "station-1"); err == nil {
		t.Error("EnsurePatientID succeeded without a client")
	}
}
