package swr

import "testing"

func TestKeyCanonical(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{Key{"todos"}, "todos"},
		{Key{"todos", "42"}, "todos\x1f42"},
		{Key{}, ""},
	}
	for _, tt := range tests {
		if got := tt.key.Canonical(); got != tt.want {
			t.Errorf("Canonical(%v) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestKeyEqual(t *testing.T) {
	if !(Key{"a", "b"}).Equal(Key{"a", "b"}) {
		t.Error("identical keys should be equal")
	}
	if (Key{"a"}).Equal(Key{"a", "b"}) {
		t.Error("keys of different length should not be equal")
	}
	if (Key{"a", "b"}).Equal(Key{"a", "c"}) {
		t.Error("keys with different segments should not be equal")
	}
}

func TestKeyClone(t *testing.T) {
	k := Key{"todos", "42"}
	c := k.Clone()
	c[1] = "other"
	if k[1] != "42" {
		t.Error("Clone must not share backing storage")
	}
	if Key(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
