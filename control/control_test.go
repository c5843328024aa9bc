package control

import (
	"testing"
	"time"
)

func TestLoopbackDelivery(t *testing.T) {
	got := make(chan string, 4)
	srv, err := Serve("127.0.0.1:0", func(s string) { got <- s })
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	cli, err := Dial(srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	snippets := []string{`register("a", function(t) return 0 end)`, `clear()`}
	for _, s := range snippets {
		if err := cli.Send(s); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range snippets {
		select {
		case s := <-got:
			if s != want {
				t.Errorf("received %q, want %q", s, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("snippet never arrived")
		}
	}
}

func TestOversizeSnippetRejected(t *testing.T) {
	srv, err := Serve("127.0.0.1:0", func(string) {})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	cli, err := Dial(srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()
	if err := cli.Send(string(make([]byte, maxSnippet+1))); err == nil {
		t.Fatal("expected the oversize snippet to be rejected")
	}
}
