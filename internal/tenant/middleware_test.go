package tenant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeAPIKeyLookup struct {
	slug string
	err  error
}

func (f *fakeAPIKeyLookup) SlugForAPIKey(ctx context.Context, apiKey string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.slug, nil
}

func TestAPIKeyResolver_Resolve(t *testing.T) {
	resolver := APIKeyResolver{Lookup: &fakeAPIKeyLookup{slug: "acme"}}

	t.Run("returns slug for valid key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(APIKeyHeader, "sk_live_abc123")

		slug, err := resolver.Resolve(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if slug != "acme" {
			t.Errorf("slug = %q, want %q", slug, "acme")
		}
	})

	t.Run("returns error when header missing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)

		_, err := resolver.Resolve(r)
		if err == nil {
			t.Fatal("expected error for missing header")
		}
	})
}
