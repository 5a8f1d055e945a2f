package recipients

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{"simple", "+1555\n+1556\n", []string{"+1555", "+1556"}},
		{"blank lines", "+1555\n\n+1556\n", []string{"+1555", "+1556"}},
		{"crlf", "+1555\r\n+1556\r\n", []string{"+1555", "+1556"}},
		{"bare cr", "+1555\r+1556\r+1557", []string{"+1555", "+1556", "+1557"}},
		{"mixed endings", "+1555\r\n+1556\r+1557\n+1558", []string{"+1555", "+1556", "+1557", "+1558"}},
		{"whitespace", "  +1555 \t\n\t+1556", []string{"+1555", "+1556"}},
		{"duplicates kept", "a\nb\na", []string{"a", "b", "a"}},
		{"no validation", "not-a-number\n", []string{"not-a-number"}},
		{"only blanks", "\n \r\n\t\n", []string{}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse([]byte(tt.payload))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %q, want %q", tt.payload, got, tt.want)
			}
		})
	}
}

func TestStore(t *testing.T) {
	s := NewStore()

	if _, err := s.Current(); !errors.Is(err, ErrNoList) {
		t.Fatalf("Current() on empty store = %v, want ErrNoList", err)
	}

	s.Set(List{Addresses: []string{"a", "b"}, UploadedBy: "1", UploadedAt: time.Unix(100, 0)})
	s.Set(List{Addresses: []string{"c"}, UploadedBy: "2"})

	got, err := s.Current()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Addresses, []string{"c"}) || got.UploadedBy != "2" {
		t.Errorf("Current() = %+v, want second list", got)
	}

	s.Set(List{UploadedBy: "3"})
	got, err = s.Current()
	if err != nil {
		t.Fatalf("empty list must still be stored: %v", err)
	}
	if got.Len() != 0 || got.UploadedBy != "3" {
		t.Errorf("Current() = %+v, want empty list from 3", got)
	}

	s.Clear()
	if _, err := s.Current(); !errors.Is(err, ErrNoList) {
		t.Errorf("Current() after Clear = %v, want ErrNoList", err)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewStore()
	addrs := []string{"a", "b"}
	s.Set(List{Addresses: addrs})
	addrs[0] = "mutated"

	got, _ := s.Current()
	got.Addresses[1] = "mutated"

	again, _ := s.Current()
	if !reflect.DeepEqual(again.Addresses, []string{"a", "b"}) {
		t.Errorf("stored list was mutated: %q", again.Addresses)
	}
}

func TestSetFromUpload(t *testing.T) {
	s := NewStore()
	at := time.Unix(1700000000, 0)

	l := s.SetFromUpload([]byte("+1555\n\n+1556\n"), "9", at)
	if !reflect.DeepEqual(l.Addresses, []string{"+1555", "+1556"}) {
		t.Errorf("addresses = %q", l.Addresses)
	}

	got, err := s.Current()
	if err != nil {
		t.Fatal(err)
	}
	if got.UploadedBy != "9" || !got.UploadedAt.Equal(at) || got.Len() != 2 {
		t.Errorf("Current() = %+v", got)
	}
}
