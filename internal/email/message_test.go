package email

import (
	"reflect"
	"testing"
)

func TestAddressList_SetKeepsOrderAndReplacesName(t *testing.T) {
	t.Parallel()

	var l AddressList
	l = l.Set("a@example.com", "A")
	l = l.Set("b@example.com", "B")
	l = l.Set("a@example.com", "Alice")

	want := AddressList{
		{Address: "a@example.com", Name: "Alice"},
		{Address: "b@example.com", Name: "B"},
	}
	if !reflect.DeepEqual(l, want) {
		t.Errorf("Set: got %+v, want %+v", l, want)
	}
}

func TestAddressList_Join(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		list AddressList
		want string
	}{
		{"empty", nil, ""},
		{"single", Addrs("a@example.com"), "a@example.com"},
		{"names omitted", AddressList{{Address: "a@example.com", Name: "A"}, {Address: "b@example.com", Name: "B"}}, "a@example.com, b@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.list.Join(); got != tt.want {
				t.Errorf("Join(): got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddress_String(t *testing.T) {
	t.Parallel()

	if got := (Address{Address: "a@example.com"}).String(); got != "a@example.com" {
		t.Errorf("bare: got %q", got)
	}
	if got := (Address{Address: "a@example.com", Name: "a@example.com"}).String(); got != "a@example.com" {
		t.Errorf("self-named: got %q", got)
	}
	if got := (Address{Address: "a@example.com", Name: "Alice"}).String(); got != `"Alice" <a@example.com>` {
		t.Errorf("named: got %q", got)
	}
}

func TestEmail_Headers(t *testing.T) {
	t.Parallel()

	msg := &Email{}
	msg.SetHeader("x-original-to", "a@example.com")
	msg.AddHeaders(map[string]string{"X-Original-Cc": "c@example.com"})

	if v, ok := msg.Header("X-Original-To"); !ok || v != "a@example.com" {
		t.Errorf("X-Original-To: got %q, %v", v, ok)
	}
	if v, ok := msg.Header("x-original-cc"); !ok || v != "c@example.com" {
		t.Errorf("X-Original-Cc: got %q, %v", v, ok)
	}
	if _, ok := msg.Header("X-Original-Bcc"); ok {
		t.Error("X-Original-Bcc should not be set")
	}
}

func TestEmail_Recipients(t *testing.T) {
	t.Parallel()

	msg := &Email{
		To:  Addrs("to@example.com"),
		Cc:  Addrs("cc@example.com"),
		Bcc: Addrs("bcc@example.com"),
	}
	want := []string{"to@example.com", "cc@example.com", "bcc@example.com"}
	if got := msg.Recipients(); !reflect.DeepEqual(got, want) {
		t.Errorf("Recipients(): got %v, want %v", got, want)
	}
}
