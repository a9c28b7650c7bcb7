// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package targets

import (
	"context"
	"testing"
)

type fakeResolver struct {
	hosts map[string][]string
}

func (f fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return f.hosts[host], nil
}

func TestParseLiteralAddress(t *testing.T) {
	got, err := Parse(context.Background(), "192.0.2.1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Addr.String() != "192.0.2.1" {
		t.Fatalf("got %v", got)
	}
}

func TestParseCIDRExpandsAllAddresses(t *testing.T) {
	got, err := Parse(context.Background(), "192.0.2.0/30", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 addresses, got %d", len(got))
	}
}

func TestParseDashRangeShortForm(t *testing.T) {
	got, err := Parse(context.Background(), "192.0.2.1-3", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 addresses, got %d", len(got))
	}
	if got[0].Addr.String() != "192.0.2.1" || got[2].Addr.String() != "192.0.2.3" {
		t.Fatalf("unexpected range bounds: %v", got)
	}
}

func TestParseHostnameUsesResolver(t *testing.T) {
	r := fakeResolver{hosts: map[string][]string{"example.test": {"192.0.2.9"}}}
	got, err := Parse(context.Background(), "example.test", r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Hostname != "example.test" {
		t.Fatalf("got %v", got)
	}
}

func TestParseMultipleCommaSeparated(t *testing.T) {
	got, err := Parse(context.Background(), "192.0.2.1,192.0.2.2", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(got))
	}
}
