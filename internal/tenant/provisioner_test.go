package tenant

import (
	"context"
	"testing"
)

func TestProvision_RejectsInvalidSlug(t *testing.T) {
	p := &Provisioner{}

	cases := []string{"", "A", "1abc", "ab", "has space", "Has-Upper"}
	for _, slug := range cases {
		if _, err := p.Provision(context.Background(), "Example Co", slug); err == nil {
			t.Errorf("Provision(slug=%q) = nil error, want rejection", slug)
		}
	}
}

func TestProvision_AcceptsWellFormedSlug(t *testing.T) {
	if !slugRegex.MatchString("acme_solar") {
		t.Error("expected acme_solar to match slugRegex")
	}
	if !slugRegex.MatchString("a1") {
		t.Error("expected a1 to match slugRegex")
	}
}
