// Package tokens defines the generic design-token payload relayed between
// sources and targets, and the structural validator the relay runs on every
// sync frame before forwarding it.
package tokens

import (
	"encoding/json"
	"fmt"
)

// Type tags a token's value.
type Type string

const (
	TypeColor   Type = "color"
	TypeNumber  Type = "number"
	TypeString  Type = "string"
	TypeBoolean Type = "boolean"
)

// Valid reports whether t is one of the four known tags.
func (t Type) Valid() bool {
	switch t {
	case TypeColor, TypeNumber, TypeString, TypeBoolean:
		return true
	}
	return false
}

// Payload is the body of a sync frame.
type Payload struct {
	Collections []Collection `json:"collections" yaml:"collections"`
}

// Collection groups modes under a name (e.g. "Brand").
type Collection struct {
	Name  string `json:"name" yaml:"name"`
	Modes []Mode `json:"modes" yaml:"modes"`
}

// Mode is one variant of a collection (e.g. "Light").
type Mode struct {
	Name   string  `json:"name" yaml:"name"`
	Tokens []Token `json:"tokens" yaml:"tokens"`
}

// Token is a single named value. Value holds a string for color and string
// tokens, a float64 for number tokens and a bool for boolean tokens.
type Token struct {
	Name  string `json:"name" yaml:"name"`
	Type  Type   `json:"type" yaml:"type"`
	Value any    `json:"value" yaml:"value"`
}

// Parse validates raw and decodes it into a Payload.
func Parse(raw []byte) (*Payload, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}

// Marshal validates p and encodes it for the wire.
func (p *Payload) Marshal() (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, err
	}
	return data, nil
}
