package idutil

import "testing"

func TestFromIntIsDeterministicAndDistinct(t *testing.T) {
	a := FromInt(0)
	b := FromInt(0)
	if a != b {
		t.Fatal("FromInt should be deterministic for the same input")
	}
	c := FromInt(1)
	if a == c {
		t.Fatal("FromInt(0) and FromInt(1) must differ")
	}
	if a.Bytes()[0] != 0 {
		t.Fatal("low-integer uuids should have a zero high-order prefix")
	}
}
