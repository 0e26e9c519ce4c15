/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "testing"

func TestNormalizeTitleField(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Sigur Rós", "sigur ros"},
		{"  The   Beatles  ", "the beatles"},
		{"BJÖRK", "bjork"},
		{"Mötley\tCrüe", "motley crue"},
		{"already normal", "already normal"},
	}
	for _, tc := range cases {
		if got := NormalizeTitleField(tc.in); got != tc.want {
			t.Errorf("NormalizeTitleField(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAudioAssetString(t *testing.T) {
	a := &AudioAsset{Title: "T:0", Artist: "A:0"}
	if got := a.String(); got != "A:0 - T:0" {
		t.Errorf("String() = %q, want %q", got, "A:0 - T:0")
	}

	a = &AudioAsset{}
	if got := a.String(); got != unnamedTrack {
		t.Errorf("String() = %q, want %q", got, unnamedTrack)
	}
}

func TestStopsetSelectable(t *testing.T) {
	s := &Stopset{IsActive: true}
	if s.Selectable() {
		t.Error("stopset with no rotators should not be selectable")
	}

	s.Rotators = []StopsetRotator{{Rotator: Rotator{Name: "ads"}}}
	if s.Selectable() {
		t.Error("stopset with an empty rotator should not be selectable")
	}

	s.Rotators[0].Rotator.Assets = []AudioAsset{{Title: "PSA"}}
	if !s.Selectable() {
		t.Error("stopset with a populated rotator should be selectable")
	}

	s.IsActive = false
	if s.Selectable() {
		t.Error("inactive stopset should not be selectable")
	}
}
