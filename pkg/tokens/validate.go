package tokens

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidPayload is matched by every validation failure.
var ErrInvalidPayload = errors.New("invalid payload")

// ValidationError locates the first schema violation in a payload.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid payload: " + e.Reason
	}
	return fmt.Sprintf("invalid payload at %s: %s", e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPayload }

var hexColorPattern = regexp.MustCompile(`(?i)^#(?:[0-9a-f]{3}|[0-9a-f]{4}|[0-9a-f]{6}|[0-9a-f]{8})$`)

// IsHexColor reports whether s is #RGB, #RGBA, #RRGGBB or #RRGGBBAA.
func IsHexColor(s string) bool {
	return hexColorPattern.MatchString(s)
}

// Wire shapes with pointer fields so that a missing key, an explicit null and
// an empty value stay distinguishable.
type wirePayload struct {
	Collections *[]wireCollection `json:"collections"`
}

type wireCollection struct {
	Name  *string     `json:"name"`
	Modes *[]wireMode `json:"modes"`
}

type wireMode struct {
	Name   *string      `json:"name"`
	Tokens *[]wireToken `json:"tokens"`
}

type wireToken struct {
	Name  *string         `json:"name"`
	Type  *string         `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Validate checks raw against the token-collection schema. Collections and
// modes must be non-empty lists; a mode's tokens must be a list but may be
// empty. Every token needs a name, a known type tag and a value of the shape
// that tag declares.
func Validate(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &ValidationError{Reason: "payload is required"}
	}
	if raw[0] != '{' {
		return &ValidationError{Reason: "payload must be an object"}
	}

	var p wirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if p.Collections == nil {
		return &ValidationError{Path: "collections", Reason: "must be a list"}
	}
	if len(*p.Collections) == 0 {
		return &ValidationError{Path: "collections", Reason: "must not be empty"}
	}

	for ci, c := range *p.Collections {
		cpath := fmt.Sprintf("collections[%d]", ci)
		if c.Name == nil {
			return &ValidationError{Path: cpath + ".name", Reason: "must be a string"}
		}
		if c.Modes == nil {
			return &ValidationError{Path: cpath + ".modes", Reason: "must be a list"}
		}
		if len(*c.Modes) == 0 {
			return &ValidationError{Path: cpath + ".modes", Reason: "must not be empty"}
		}
		for mi, m := range *c.Modes {
			mpath := fmt.Sprintf("%s.modes[%d]", cpath, mi)
			if m.Name == nil {
				return &ValidationError{Path: mpath + ".name", Reason: "must be a string"}
			}
			if m.Tokens == nil {
				return &ValidationError{Path: mpath + ".tokens", Reason: "must be a list"}
			}
			for ti, tok := range *m.Tokens {
				if err := validateToken(fmt.Sprintf("%s.tokens[%d]", mpath, ti), tok); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validateToken(path string, tok wireToken) error {
	if tok.Name == nil {
		return &ValidationError{Path: path + ".name", Reason: "must be a string"}
	}
	if tok.Type == nil {
		return &ValidationError{Path: path + ".type", Reason: "is required"}
	}
	typ := Type(*tok.Type)
	if !typ.Valid() {
		return &ValidationError{Path: path + ".type", Reason: fmt.Sprintf("unknown type %q", *tok.Type)}
	}
	if len(tok.Value) == 0 {
		return &ValidationError{Path: path + ".value", Reason: "is required"}
	}

	var v any
	if err := json.Unmarshal(tok.Value, &v); err != nil {
		return &ValidationError{Path: path + ".value", Reason: err.Error()}
	}
	switch typ {
	case TypeColor:
		s, ok := v.(string)
		if !ok || !IsHexColor(s) {
			return &ValidationError{Path: path + ".value", Reason: "color must be a hex string"}
		}
	case TypeNumber:
		if _, ok := v.(float64); !ok {
			return &ValidationError{Path: path + ".value", Reason: "must be a number"}
		}
	case TypeString:
		if _, ok := v.(string); !ok {
			return &ValidationError{Path: path + ".value", Reason: "must be a string"}
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return &ValidationError{Path: path + ".value", Reason: "must be a boolean"}
		}
	}
	return nil
}
