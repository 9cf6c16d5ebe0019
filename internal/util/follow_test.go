package util

import (
	"errors"
	"testing"
)

func TestFollowCodecRoundTrip(t *testing.T) {
	f := NewFollowCodec("race-salt", 6)
	for _, bib := range []int{0, 7, 101, 4242} {
		code, err := f.Encode("city-10k", bib)
		if err != nil {
			t.Fatal(err)
		}
		if len(code) < 6 {
			t.Errorf("code %q shorter than min length", code)
		}
		got, err := f.Decode("city-10k", code)
		if err != nil || got != bib {
			t.Errorf("bib %d decoded as %d: %v", bib, got, err)
		}
	}
}

func TestFollowCodecPerCourse(t *testing.T) {
	f := NewFollowCodec("race-salt", 6)
	a, _ := f.Encode("city-10k", 101)
	b, _ := f.Encode("half-marathon", 101)
	if a == b {
		t.Errorf("same code %q on two courses", a)
	}
	if bib, err := f.Decode("half-marathon", a); err == nil && bib == 101 {
		t.Errorf("code from one course resolved on another")
	}
	if _, err := f.Decode("city-10k", "!!!"); !errors.Is(err, ErrBadFollowCode) {
		t.Errorf("garbage code: %v", err)
	}
}
