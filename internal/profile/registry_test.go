package profile

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRegistry_DefaultOrder(t *testing.T) {
	r, err := NewRegistry(Config{
		Order:           "tv,ios,cookies,android",
		AllowCredential: true,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	want := []string{"tv", "ios", "cookies", "android"}
	if !reflect.DeepEqual(r.DefaultOrder(), want) {
		t.Errorf("DefaultOrder() = %v, want %v", r.DefaultOrder(), want)
	}
}

func TestNewRegistry_UnknownNamesIgnored(t *testing.T) {
	r, err := NewRegistry(Config{
		Order:           "tv,nonsense,ios",
		AllowCredential: true,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	want := []string{"tv", "ios"}
	if !reflect.DeepEqual(r.DefaultOrder(), want) {
		t.Errorf("DefaultOrder() = %v, want %v", r.DefaultOrder(), want)
	}
}

func TestNewRegistry_DuplicatesKeepFirst(t *testing.T) {
	r, err := NewRegistry(Config{
		Order:           "ios,tv,ios,tv",
		AllowCredential: true,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	want := []string{"ios", "tv"}
	if !reflect.DeepEqual(r.DefaultOrder(), want) {
		t.Errorf("DefaultOrder() = %v, want %v", r.DefaultOrder(), want)
	}
}

func TestNewRegistry_DefaultPromotedToFront(t *testing.T) {
	r, err := NewRegistry(Config{
		Order:           "tv,ios,android",
		Default:         "android",
		AllowCredential: true,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	want := []string{"android", "tv", "ios"}
	if !reflect.DeepEqual(r.DefaultOrder(), want) {
		t.Errorf("DefaultOrder() = %v, want %v", r.DefaultOrder(), want)
	}
}

func TestNewRegistry_CredentialGateRemovesCookies(t *testing.T) {
	r, err := NewRegistry(Config{
		Order:           "tv,cookies,android",
		AllowCredential: false,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	want := []string{"tv", "android"}
	if !reflect.DeepEqual(r.DefaultOrder(), want) {
		t.Errorf("DefaultOrder() = %v, want %v", r.DefaultOrder(), want)
	}
}

func TestNewRegistry_EmptyOrderIsFatal(t *testing.T) {
	_, err := NewRegistry(Config{
		Order:           "nonsense,garbage",
		AllowCredential: true,
	}, testLogger())
	if !errors.Is(err, ErrEmptyOrder) {
		t.Errorf("NewRegistry() error = %v, want ErrEmptyOrder", err)
	}
}

func TestRegistry_Get(t *testing.T) {
	r, err := NewRegistry(Config{Order: "tv", AllowCredential: true}, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	spec, err := r.Get("cookies")
	if err != nil {
		t.Fatalf("Get(cookies) error = %v", err)
	}
	if !spec.RequiresCredentials {
		t.Error("cookies profile should require credentials")
	}
	if spec.PlayerClient != "" {
		t.Errorf("cookies profile PlayerClient = %q, want empty", spec.PlayerClient)
	}

	if _, err := r.Get("nonsense"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(nonsense) error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_GetNormalisesName(t *testing.T) {
	r, err := NewRegistry(Config{Order: "tv", AllowCredential: true}, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	spec, err := r.Get("  IOS ")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if spec.Name != "ios" {
		t.Errorf("Get() name = %q, want ios", spec.Name)
	}
}

func TestRegistry_List(t *testing.T) {
	r, err := NewRegistry(Config{Order: "mweb,web", AllowCredential: true}, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d specs, want 2", len(list))
	}
	if list[0].QualityCeiling != QualitySD360 {
		t.Errorf("mweb quality = %q, want %q", list[0].QualityCeiling, QualitySD360)
	}
}
