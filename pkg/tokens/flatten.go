package tokens

// Path addresses one token inside a payload.
type Path struct {
	Collection string
	Mode       string
	Token      Token
}

// Flatten lists every token in document order.
func Flatten(p *Payload) []Path {
	if p == nil {
		return nil
	}
	var out []Path
	for _, c := range p.Collections {
		for _, m := range c.Modes {
			for _, tok := range m.Tokens {
				out = append(out, Path{Collection: c.Name, Mode: m.Name, Token: tok})
			}
		}
	}
	return out
}

// FilterByType returns a copy of p keeping only tokens of the allowed types.
// Modes left without tokens are kept so targets still see the mode exists;
// collections are dropped only when p has none of the allowed tokens at all.
func FilterByType(p *Payload, allowed ...Type) *Payload {
	if p == nil {
		return nil
	}
	keep := make(map[Type]bool, len(allowed))
	for _, t := range allowed {
		keep[t] = true
	}

	out := &Payload{Collections: make([]Collection, 0, len(p.Collections))}
	total := 0
	for _, c := range p.Collections {
		nc := Collection{Name: c.Name, Modes: make([]Mode, 0, len(c.Modes))}
		for _, m := range c.Modes {
			nm := Mode{Name: m.Name, Tokens: []Token{}}
			for _, tok := range m.Tokens {
				if keep[tok.Type] {
					nm.Tokens = append(nm.Tokens, tok)
				}
			}
			total += len(nm.Tokens)
			nc.Modes = append(nc.Modes, nm)
		}
		out.Collections = append(out.Collections, nc)
	}
	if total == 0 {
		return nil
	}
	return out
}

// ColorTokens lists every color token with its hex value.
func ColorTokens(p *Payload) []Path {
	var out []Path
	for _, path := range Flatten(p) {
		if path.Token.Type != TypeColor {
			continue
		}
		if s, ok := path.Token.Value.(string); ok && IsHexColor(s) {
			out = append(out, path)
		}
	}
	return out
}
