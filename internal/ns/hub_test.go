package ns

import (
	"testing"

	"github.com/obiverse/nine-s/internal/scroll"
)

func TestHubFansOutByPattern(t *testing.T) {
	h := NewHub(0)
	defer h.Close()

	under, err := h.Subscribe("/a/**")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	elsewhere, err := h.Subscribe("/b/**")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	h.Publish(&scroll.Scroll{Key: "/a/x"})

	select {
	case sc := <-under.Scrolls():
		if sc.Key != "/a/x" {
			t.Errorf("key = %q", sc.Key)
		}
	default:
		t.Error("matching subscription got nothing")
	}
	select {
	case sc := <-elsewhere.Scrolls():
		t.Errorf("non-matching subscription got %q", sc.Key)
	default:
	}
}

func TestHubRejectsBadPattern(t *testing.T) {
	h := NewHub(0)
	defer h.Close()
	if _, err := h.Subscribe("/a/*/b"); !IsCode(err, CodeInvalidPath) {
		t.Errorf("err = %v, want invalid_path", err)
	}
}

func TestHubCapAndSweep(t *testing.T) {
	h := NewHub(1)
	defer h.Close()
	first, err := h.Subscribe("/**")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := h.Subscribe("/**"); !IsCode(err, CodeUnavailable) {
		t.Errorf("err = %v, want unavailable", err)
	}
	first.Cancel()
	if _, err := h.Subscribe("/**"); err != nil {
		t.Errorf("Subscribe after sweep: %v", err)
	}
	if h.Len() != 1 {
		t.Errorf("Len = %d", h.Len())
	}
}

func TestHubCloseTerminatesSubscriptions(t *testing.T) {
	h := NewHub(0)
	sub, err := h.Subscribe("/**")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	h.Close()
	if _, ok := <-sub.Scrolls(); ok {
		t.Error("subscription channel still open after hub close")
	}
}

func TestForwardRewritesAndPropagatesCancel(t *testing.T) {
	h := NewHub(0)
	defer h.Close()
	inner, err := h.Subscribe("/**")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	outer := Forward(inner, "/mnt/**", func(sc *scroll.Scroll) *scroll.Scroll {
		return sc.WithKey("/mnt" + sc.Key)
	})

	h.Publish(&scroll.Scroll{Key: "/x"})
	sc, ok := <-outer.Scrolls()
	if !ok || sc.Key != "/mnt/x" {
		t.Errorf("forwarded = (%#v, %v)", sc, ok)
	}

	outer.Cancel()
	if !inner.Cancelled() {
		t.Error("cancel did not propagate inward")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	err := Errorf(CodeInvalidPath, "bad path %q", "/x y")
	if CodeOf(err) != CodeInvalidPath {
		t.Errorf("CodeOf = %v", CodeOf(err))
	}
	if CodeOf(nil) != CodeInternal {
		t.Errorf("CodeOf(nil) = %v", CodeOf(nil))
	}
	if FromCode("no_such_code", "m").Code != CodeInternal {
		t.Error("unknown code did not collapse to internal")
	}
	if FromCode("timeout", "m").Code != CodeTimeout {
		t.Error("known code lost")
	}
}
