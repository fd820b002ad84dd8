package extract

import (
	"reflect"
	"strings"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(NewOEmbed("youtube", "https://www.youtube.com/oembed", ""))
	r.Register(NewOEmbed("tiktok", "https://www.tiktok.com/oembed", ""))

	e, err := r.Get("youtube")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Platform() != "youtube" {
		t.Errorf("got platform %q, want %q", e.Platform(), "youtube")
	}

	if _, err := r.Get("myspace"); err == nil {
		t.Fatal("expected error for unknown platform")
	} else if !strings.Contains(err.Error(), "tiktok") {
		t.Errorf("error %q should list the available platforms", err)
	}
}

func TestRegistryPlatformsSorted(t *testing.T) {
	r := NewRegistry()
	RegisterDefaults(r, "")

	got := r.Platforms()
	want := []string{"facebook", "instagram", "pinterest", "tiktok", "twitter", "youtube"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got platforms %v, want %v", got, want)
	}
}
