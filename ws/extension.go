package ws

import (
	"strings"
)

// Param is one extension parameter: a bare token or key=value.
type Param struct {
	Key   string
	Value string
}

// ExtensionOffer is one parsed element of a Sec-WebSocket-Extensions
// header.
type ExtensionOffer struct {
	Name   string
	Params []Param
}

// Param returns the value for key, with ok reporting presence.
func (eo *ExtensionOffer) Param(key string) (string, bool) {
	for _, p := range eo.Params {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return "", false
}

// Extension is a single negotiated frame transform. Installed
// extensions form an ordered chain: outgoing frames pass through the
// chain in declaration order, incoming frames in reverse order. An
// extension may mutate rsv bits and payload bytes; it must not change
// the opcode or the fragmentation topology.
type Extension interface {
	Name() string

	// GetOffer returns the client's offer token (name plus
	// parameters), or "" to skip offering.
	GetOffer() string

	// NegotiateAnswer inspects the server's answer (client side) and
	// reports whether the extension is now active.
	NegotiateAnswer(answer ExtensionOffer) bool

	// NegotiateOffer inspects a client offer (server side) and
	// returns the answer token, or ok=false to reject the offer.
	NegotiateOffer(offer ExtensionOffer) (string, bool)

	// ProcessOutgoing transforms an outgoing frame's payload and may
	// set rsv bits on hdr.
	ProcessOutgoing(hdr *FrameHeader, payload []byte) ([]byte, error)

	// ProcessIncoming reverses the transform on an incoming frame.
	ProcessIncoming(hdr *FrameHeader, payload []byte) ([]byte, error)

	// RsvMask returns the rsv bits this extension claims once active.
	RsvMask() (rsv1, rsv2, rsv3 bool)
}

// ParseExtensionHeader parses a Sec-WebSocket-Extensions value:
// comma-separated extensions, each a name followed by
// semicolon-separated parameters. Values may be quoted; whitespace is
// trimmed.
func ParseExtensionHeader(value string) []ExtensionOffer {
	var offers []ExtensionOffer

	for _, ext := range splitTrimmed(value, ',') {
		tokens := splitTrimmed(ext, ';')
		if len(tokens) == 0 || tokens[0] == "" {
			continue
		}

		offer := ExtensionOffer{Name: tokens[0]}
		for _, tok := range tokens[1:] {
			if tok == "" {
				continue
			}

			key, val, hasVal := cutParam(tok)
			if hasVal {
				val = unquote(val)
			}
			offer.Params = append(offer.Params, Param{Key: key, Value: val})
		}

		offers = append(offers, offer)
	}

	return offers
}

// FormatExtensionHeader joins non-empty tokens into a header value.
func FormatExtensionHeader(tokens []string) string {
	kept := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, ", ")
}

func splitTrimmed(s string, sep byte) []string {
	parts := strings.Split(s, string(sep))
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func cutParam(tok string) (key, val string, hasVal bool) {
	if i := strings.IndexByte(tok, '='); i >= 0 {
		return strings.TrimSpace(tok[:i]), strings.TrimSpace(tok[i+1:]), true
	}
	return tok, "", false
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// negotiateClient runs the answer list against the offered chain and
// returns the active extensions in answer order.
func negotiateClient(exts []Extension, answerHeader string) ([]Extension, error) {
	if answerHeader == "" {
		return nil, nil
	}

	var active []Extension
	for _, answer := range ParseExtensionHeader(answerHeader) {
		var matched Extension
		for _, ext := range exts {
			if strings.EqualFold(ext.Name(), answer.Name) {
				matched = ext
				break
			}
		}
		if matched == nil {
			// the server answered with something never offered
			return nil, ErrProtocolError
		}
		if matched.NegotiateAnswer(answer) {
			active = append(active, matched)
		}
	}

	return active, nil
}

// negotiateServer matches client offers against the installed
// extensions, returning the active chain and the answer tokens.
func negotiateServer(exts []Extension, offerHeader string) (active []Extension, answers []string) {
	if offerHeader == "" {
		return nil, nil
	}

	taken := make(map[string]bool)

	for _, offer := range ParseExtensionHeader(offerHeader) {
		if taken[strings.ToLower(offer.Name)] {
			continue
		}

		for _, ext := range exts {
			if !strings.EqualFold(ext.Name(), offer.Name) {
				continue
			}

			if answer, ok := ext.NegotiateOffer(offer); ok {
				active = append(active, ext)
				answers = append(answers, answer)
				taken[strings.ToLower(offer.Name)] = true
			}
			break
		}
	}

	return active, answers
}
