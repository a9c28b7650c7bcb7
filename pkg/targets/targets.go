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

// Package targets parses host specifications (literal IPs, CIDR blocks,
// dash ranges, hostnames, and -iL input files) into resolved addresses.
package targets

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

// Target mirrors scan.Target's shape without importing the scan package, so
// this package stays a leaf dependency usable from config/CLI code alone.
type Target struct {
	Addr     netip.Addr
	Hostname string
}

// Resolver resolves hostnames to addresses; production code uses
// net.DefaultResolver, tests can supply a fake.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Parse expands a comma-separated list of target specs (literal addresses,
// CIDR blocks, dash ranges, or hostnames) into concrete targets.
func Parse(ctx context.Context, spec string, resolver Resolver) ([]Target, error) {
	var out []Target
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		expanded, err := parseOne(ctx, part, resolver)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// ParseFile reads newline-delimited target specs from path (the -iL form),
// skipping blank lines and '#'-prefixed comments.
func ParseFile(ctx context.Context, path string, resolver Resolver) ([]Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open target file: %w", err)
	}
	defer f.Close()

	var out []Target
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		expanded, err := parseOne(ctx, line, resolver)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseOne(ctx context.Context, spec string, resolver Resolver) ([]Target, error) {
	if addr, err := netip.ParseAddr(spec); err == nil {
		return []Target{{Addr: addr, Hostname: spec}}, nil
	}
	if strings.Contains(spec, "/") {
		return parseCIDR(spec)
	}
	if strings.Contains(spec, "-") && looksLikeDashRange(spec) {
		return parseDashRange(spec)
	}
	return resolveHostname(ctx, spec, resolver)
}

func parseCIDR(spec string) ([]Target, error) {
	prefix, err := netip.ParsePrefix(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", spec, err)
	}
	var out []Target
	addr := prefix.Masked().Addr()
	for prefix.Contains(addr) {
		out = append(out, Target{Addr: addr, Hostname: addr.String()})
		addr = addr.Next()
		if !addr.IsValid() {
			break
		}
	}
	return out, nil
}

// looksLikeDashRange distinguishes "10.0.0.1-10.0.0.5" / "10.0.0.1-5" from a
// bare hostname that happens to contain a hyphen.
func looksLikeDashRange(spec string) bool {
	idx := strings.LastIndex(spec, "-")
	if idx <= 0 {
		return false
	}
	prefix := spec[:idx]
	return net.ParseIP(prefix) != nil
}

func parseDashRange(spec string) ([]Target, error) {
	idx := strings.LastIndex(spec, "-")
	startStr := spec[:idx]
	endStr := spec[idx+1:]

	start, err := netip.ParseAddr(startStr)
	if err != nil {
		return nil, fmt.Errorf("invalid range start %q: %w", startStr, err)
	}

	var end netip.Addr
	if fullEnd, err := netip.ParseAddr(endStr); err == nil {
		end = fullEnd
	} else if lastOctet, err2 := strconv.Atoi(endStr); err2 == nil && start.Is4() {
		b := start.As4()
		b[3] = byte(lastOctet)
		end = netip.AddrFrom4(b)
	} else {
		return nil, fmt.Errorf("invalid range end %q", endStr)
	}

	var out []Target
	addr := start
	for {
		out = append(out, Target{Addr: addr, Hostname: addr.String()})
		if addr == end {
			break
		}
		addr = addr.Next()
		if !addr.IsValid() {
			break
		}
	}
	return out, nil
}

func resolveHostname(ctx context.Context, host string, resolver Resolver) ([]Target, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", host, err)
	}
	var out []Target
	for _, a := range addrs {
		addr, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		out = append(out, Target{Addr: addr, Hostname: host})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no addresses resolved for %q", host)
	}
	return out, nil
}
