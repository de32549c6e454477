package state

import "testing"

func TestCompositeKey(t *testing.T) {
	tests := []struct {
		namespace []string
		key       string
		want      string
	}{
		{nil, "plain", "plain"},
		{[]string{"summaries", "u1"}, "user:u1:task:t1", "summaries:u1:user%3Au1%3Atask%3At1"},
		{[]string{"a"}, "b:c", "a:b%3Ac"},
		{[]string{"a", "b"}, "c", "a:b:c"},
		{[]string{"a"}, "50%", "a:50%25"},
		{[]string{"a"}, "%3A", "a:%253A"},
	}
	seen := map[string]bool{}
	for _, tc := range tests {
		got := CompositeKey(tc.namespace, tc.key)
		if got != tc.want {
			t.Fatalf("CompositeKey(%v, %q) = %q, want %q", tc.namespace, tc.key, got, tc.want)
		}
		if seen[got] {
			t.Fatalf("composite %q produced twice", got)
		}
		seen[got] = true
	}
}

func TestCompositeKeyStaysUnderPrefix(t *testing.T) {
	prefix := PrefixKey([]string{"a", "b"})
	if got := CompositeKey([]string{"a"}, "b:c"); len(got) >= len(prefix) && got[:len(prefix)] == prefix {
		t.Fatalf("key %q of namespace [a] falls under prefix %q", got, prefix)
	}
	if got := CompositeKey([]string{"a", "b"}, "c"); got[:len(prefix)] != prefix {
		t.Fatalf("key %q should fall under prefix %q", got, prefix)
	}
}

func TestMatchesText(t *testing.T) {
	entry := Entry{Namespace: []string{"summaries", "u1"}, Key: "user:u1", Value: []byte(`{"summary":"Quarterly Report"}`)}
	for _, needle := range []string{"", "u1:user:u1", "quarterly report"} {
		if !MatchesText(entry, needle) {
			t.Fatalf("expected %q to match", needle)
		}
	}
	if MatchesText(entry, "u2") {
		t.Fatalf("unexpected match for u2")
	}
}
