// Package subprotocol selects the graphql-transport-ws subprotocol
// token out of whatever form a client's upgrade request offered it in.
package subprotocol

import "strings"

// Token is the subprotocol this transport implements.
const Token = "graphql-transport-ws"

// NoMatch is returned when the offered protocols do not contain Token.
const NoMatch = ""

// Negotiate inspects the client-offered subprotocol identifier(s) and
// returns Token if present, or NoMatch otherwise. Accepted input forms
// are a []string (ordered list), a map[string]struct{}/map[string]bool
// (unordered set), or a single comma/whitespace-separated string.
// Anything else returns NoMatch.
func Negotiate(offered interface{}) string {
	for _, candidate := range candidates(offered) {
		if strings.TrimSpace(candidate) == Token {
			return Token
		}
	}
	return NoMatch
}

func candidates(offered interface{}) []string {
	switch v := offered.(type) {
	case []string:
		return v
	case string:
		return strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
		})
	case map[string]struct{}:
		out := make([]string, 0, len(v))
		for k := range v {
			out = append(out, k)
		}
		return out
	case map[string]bool:
		out := make([]string, 0, len(v))
		for k := range v {
			out = append(out, k)
		}
		return out
	default:
		return nil
	}
}
