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

package config

import "testing"

func TestParseTimingTemplateAcceptsAllForms(t *testing.T) {
	for _, s := range []string{"T3", "t3", "3"} {
		tmpl, err := ParseTimingTemplate(s)
		if err != nil {
			t.Fatalf("ParseTimingTemplate(%q): %v", s, err)
		}
		if tmpl != T3Normal {
			t.Fatalf("ParseTimingTemplate(%q) = %v, want T3Normal", s, tmpl)
		}
	}
}

func TestParseTimingTemplateRejectsUnknown(t *testing.T) {
	if _, err := ParseTimingTemplate("T9"); err == nil {
		t.Fatalf("expected error for unknown template")
	}
}

func TestTimingPresetsAreMonotonicallyMoreAggressive(t *testing.T) {
	prev, _ := Resolve(T0Paranoid)
	for _, tmpl := range []TimingTemplate{T1Sneaky, T2Polite, T3Normal, T4Aggressive, T5Insane} {
		cur, err := Resolve(tmpl)
		if err != nil {
			t.Fatalf("Resolve(%v): %v", tmpl, err)
		}
		if cur.ProbeTimeout > prev.ProbeTimeout {
			t.Fatalf("expected probe timeout to decrease or stay flat as templates get more aggressive")
		}
		if cur.MaxParallelism < prev.MaxParallelism {
			t.Fatalf("expected max parallelism to increase or stay flat as templates get more aggressive")
		}
		prev = cur
	}
}
