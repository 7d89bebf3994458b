package apimodel

import (
	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/jypelle/kioskdisplay/internal/edid/store"
)

// EdidRequest carries raw EDID bytes as hexadecimal text, whitespace allowed.
type EdidRequest struct {
	EdidHex string `json:"edid_hex"`
}

type SaveRequest struct {
	EdidHex   string `json:"edid_hex"`
	Name      string `json:"name"`
	Overwrite bool   `json:"overwrite"`
	Strict    bool   `json:"strict"`
}

type SaveResponse struct {
	Path string `json:"path"`
}

// WriteRequest writes either EdidHex or the stored file Filename.
type WriteRequest struct {
	EdidHex   string `json:"edid_hex,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Transport string `json:"transport,omitempty"`
	Target    string `json:"target"`
	Verify    *bool  `json:"verify,omitempty"`
	Force     bool   `json:"force"`
}

type CompareRequest struct {
	EdidHexA string `json:"edid_hex_a"`
	EdidHexB string `json:"edid_hex_b"`
}

type CompareResponse struct {
	Equal   bool     `json:"equal"`
	LengthA int      `json:"length_a"`
	LengthB int      `json:"length_b"`
	Diffs   []string `json:"diffs"`
}

type EdidReport struct {
	Transport       string        `json:"transport"`
	Target          string        `json:"target"`
	EdidHex         string        `json:"edid_hex"`
	Length          int           `json:"length"`
	Valid           bool          `json:"valid"`
	ValidationError string        `json:"validation_error,omitempty"`
	Hash            string        `json:"hash"`
	Info            *edid.Info    `json:"info,omitempty"`
	Matches         []store.Match `json:"matches,omitempty"`
}

type ValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

type MatchResponse struct {
	Matches []store.Match `json:"matches"`
}

type ConnectorInfo struct {
	Name        string `json:"name"`
	Card        string `json:"card"`
	Connected   bool   `json:"connected"`
	EdidPresent bool   `json:"edid_present"`
	Owned       bool   `json:"owned"`
	Protected   bool   `json:"protected"`
}
