package qdrant

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestPayloadValueRoundTrip(t *testing.T) {
	gt.Value(t, fromValue(toValue("Bank A"))).Equal(any("Bank A"))
	gt.Value(t, fromValue(toValue(true))).Equal(any(true))
	gt.Value(t, fromValue(toValue(3))).Equal(any(int64(3)))
	gt.Value(t, fromValue(toValue(uint8(7)))).Equal(any(int64(7)))
	gt.Value(t, fromValue(toValue(12.5))).Equal(any(12.5))
}

func TestPointIDIsDeterministic(t *testing.T) {
	a := NewStorage(Config{Collection: "c1"})
	b := NewStorage(Config{Collection: "c2"})

	gt.Value(t, a.pointID("complaint_0").GetUuid()).Equal(a.pointID("complaint_0").GetUuid())
	gt.Value(t, a.pointID("complaint_0").GetUuid()).NotEqual(a.pointID("complaint_1").GetUuid())
	gt.Value(t, a.pointID("complaint_0").GetUuid()).NotEqual(b.pointID("complaint_0").GetUuid())
}
