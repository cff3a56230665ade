package manifest

import (
	"bytes"
	"testing"
	"time"
)

func TestCache_SetGetWithinTTL(t *testing.T) {
	c := NewCache()
	res := &VerificationResult{TxID: txID(0), Verified: true, Timestamp: time.Now()}

	c.Set(txID(0), res, time.Minute)

	got, ok := c.Get(txID(0))
	if !ok {
		t.Fatal("Get missed a fresh entry")
	}
	if got != res {
		t.Error("Get returned a different result")
	}
}

func TestCache_ExpiryOnRead(t *testing.T) {
	c := NewCache()
	c.Set(txID(0), &VerificationResult{TxID: txID(0)}, time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(txID(0)); ok {
		t.Error("Get returned an expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after lazy expiry, want 0", c.Len())
	}
}

func TestCache_UpsertOverwrites(t *testing.T) {
	c := NewCache()
	c.Set(txID(0), &VerificationResult{TxID: txID(0), Verified: false}, time.Minute)
	c.Set(txID(0), &VerificationResult{TxID: txID(0), Verified: true}, time.Minute)

	got, ok := c.Get(txID(0))
	if !ok || !got.Verified {
		t.Error("upsert did not overwrite the entry")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCache_PruneRemovesExactlyExpired(t *testing.T) {
	c := NewCache()
	c.Set(txID(0), &VerificationResult{TxID: txID(0)}, time.Millisecond)
	c.Set(txID(1), &VerificationResult{TxID: txID(1)}, time.Minute)
	c.Set(txID(2), &VerificationResult{TxID: txID(2)}, time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	if removed := c.Prune(); removed != 2 {
		t.Errorf("Prune removed %d, want 2", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d after prune, want 1", c.Len())
	}
	if _, ok := c.Get(txID(1)); !ok {
		t.Error("unexpired entry was pruned")
	}
}

func TestCache_ContentSizeCap(t *testing.T) {
	c := NewCache()

	big := &VerificationResult{
		TxID:     txID(0),
		Verified: true,
		Content:  bytes.Repeat([]byte{1}, 15<<20), // 15 MiB
	}
	c.Set(txID(0), big, time.Minute)

	got, ok := c.Get(txID(0))
	if !ok {
		t.Fatal("oversize entry missing entirely; only the bytes should be dropped")
	}
	if !got.Verified {
		t.Error("verification outcome lost")
	}
	if got.Content != nil {
		t.Errorf("oversize content retained (%d bytes)", len(got.Content))
	}

	small := &VerificationResult{
		TxID:     txID(1),
		Verified: true,
		Content:  bytes.Repeat([]byte{1}, 1<<20), // 1 MiB
	}
	c.Set(txID(1), small, time.Minute)

	got, ok = c.Get(txID(1))
	if !ok || len(got.Content) != 1<<20 {
		t.Error("small content was not retained")
	}
}

func TestCache_DefaultTTL(t *testing.T) {
	c := NewCache()
	c.Set(txID(0), &VerificationResult{TxID: txID(0)}, 0)
	if _, ok := c.Get(txID(0)); !ok {
		t.Error("zero ttl should fall back to the default, not expire immediately")
	}
}
