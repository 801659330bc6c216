package httpmiddleware

import "testing"

func TestTokenBucketAllow(t *testing.T) {
	l := NewTokenBucket(3, 3)

	for i := 0; i < 3; i++ {
		if !l.allow("ip") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.allow("ip") {
		t.Error("request over capacity should be denied")
	}
}

func TestTokenBucketPerKey(t *testing.T) {
	l := NewTokenBucket(1, 1)

	if !l.allow("a") {
		t.Fatal("first request for key a should pass")
	}
	if l.allow("a") {
		t.Error("second request for key a should be denied")
	}
	if !l.allow("b") {
		t.Error("key b has its own bucket")
	}
}

func TestTokenBucketDefaultCapacity(t *testing.T) {
	l := NewTokenBucket(0, 5)
	if l.capacity != 5 {
		t.Errorf("expected capacity to default to rate, got %d", l.capacity)
	}
}
