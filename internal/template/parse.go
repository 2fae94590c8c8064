package template

import (
	"strings"

	"github.com/DmitroKihtenko/cap-grpc/internal/mockerr"
)

// node is one parsed template fragment. The concrete types are textNode,
// exprNode, setNode, *ifNode, and *forNode.
type node any

type textNode struct{ text string }

type exprNode struct{ expr string }

type setNode struct{ stmt string }

type ifBranch struct {
	cond string
	body []node
}

type ifNode struct {
	branches []ifBranch
	elseBody []node
}

type forNode struct {
	varName string
	seqExpr string
	body    []node
}

type rawToken struct {
	kind  string // "text", "expr", "tag"
	value string
}

// tokenize splits src on {{ ... }} and {% ... %} delimiters. Delimiters do
// not nest.
func tokenize(src string) []rawToken {
	var tokens []rawToken
	rest := src
	for {
		exprIdx := strings.Index(rest, "{{")
		tagIdx := strings.Index(rest, "{%")

		var idx int
		var openLen int
		var closeDelim string
		var kind string
		switch {
		case exprIdx == -1 && tagIdx == -1:
			if rest != "" {
				tokens = append(tokens, rawToken{kind: "text", value: rest})
			}
			return tokens
		case exprIdx == -1 || (tagIdx != -1 && tagIdx < exprIdx):
			idx, openLen, closeDelim, kind = tagIdx, 2, "%}", "tag"
		default:
			idx, openLen, closeDelim, kind = exprIdx, 2, "}}", "expr"
		}

		if idx > 0 {
			tokens = append(tokens, rawToken{kind: "text", value: rest[:idx]})
		}
		body := rest[idx+openLen:]
		closeIdx := strings.Index(body, closeDelim)
		if closeIdx == -1 {
			// Unterminated delimiter: treat the remainder as literal text.
			tokens = append(tokens, rawToken{kind: "text", value: rest[idx:]})
			return tokens
		}
		tokens = append(tokens, rawToken{kind: kind, value: strings.TrimSpace(body[:closeIdx])})
		rest = body[closeIdx+len(closeDelim):]
	}
}

func splitKeyword(tag string) (keyword, rest string) {
	tag = strings.TrimSpace(tag)
	i := strings.IndexByte(tag, ' ')
	if i == -1 {
		return tag, ""
	}
	return tag[:i], strings.TrimSpace(tag[i+1:])
}

// parseTemplate parses src into a node tree.
func parseTemplate(src string) ([]node, error) {
	tokens := tokenize(src)
	pos := 0
	nodes, stopTag, err := parseNodes(tokens, &pos, nil)
	if err != nil {
		return nil, err
	}
	if stopTag != "" {
		return nil, mockerr.Newf(mockerr.KindTemplateRender, "parse", "unexpected tag %q with no matching opener", stopTag)
	}
	return nodes, nil
}

// parseNodes consumes tokens until either the end of input or a tag token
// whose keyword is in stopKeywords (in which case pos is left pointing at
// that tag, for the caller to inspect and consume).
func parseNodes(tokens []rawToken, pos *int, stopKeywords map[string]bool) (nodes []node, stopTag string, err error) {
	for *pos < len(tokens) {
		tok := tokens[*pos]
		switch tok.kind {
		case "text":
			nodes = append(nodes, textNode{text: tok.value})
			*pos++
		case "expr":
			nodes = append(nodes, exprNode{expr: tok.value})
			*pos++
		case "tag":
			keyword, rest := splitKeyword(tok.value)
			if stopKeywords != nil && stopKeywords[keyword] {
				return nodes, tok.value, nil
			}
			switch keyword {
			case "if":
				*pos++
				n, err := parseIf(tokens, pos, rest)
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, n)
			case "for":
				*pos++
				n, err := parseFor(tokens, pos, rest)
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, n)
			case "set":
				*pos++
				nodes = append(nodes, setNode{stmt: rest})
			default:
				return nil, "", mockerr.Newf(mockerr.KindTemplateRender, "parse", "unknown template tag %q", keyword)
			}
		}
	}
	return nodes, "", nil
}

func parseIf(tokens []rawToken, pos *int, firstCond string) (*ifNode, error) {
	out := &ifNode{}
	cond := firstCond
	for {
		body, stopTag, err := parseNodes(tokens, pos, map[string]bool{"elif": true, "else": true, "endif": true})
		if err != nil {
			return nil, err
		}
		if stopTag == "" {
			return nil, mockerr.Newf(mockerr.KindTemplateRender, "parse", "missing endif")
		}
		keyword, rest := splitKeyword(stopTag)
		*pos++ // consume the stop tag
		switch keyword {
		case "elif":
			out.branches = append(out.branches, ifBranch{cond: cond, body: body})
			cond = rest
			continue
		case "else":
			out.branches = append(out.branches, ifBranch{cond: cond, body: body})
			elseBody, stopTag2, err := parseNodes(tokens, pos, map[string]bool{"endif": true})
			if err != nil {
				return nil, err
			}
			if stopTag2 == "" {
				return nil, mockerr.Newf(mockerr.KindTemplateRender, "parse", "missing endif")
			}
			*pos++ // consume endif
			out.elseBody = elseBody
			return out, nil
		case "endif":
			out.branches = append(out.branches, ifBranch{cond: cond, body: body})
			return out, nil
		}
	}
}

func parseFor(tokens []rawToken, pos *int, forExpr string) (*forNode, error) {
	parts := strings.SplitN(forExpr, " in ", 2)
	if len(parts) != 2 {
		return nil, mockerr.Newf(mockerr.KindTemplateRender, "parse", "malformed for tag %q, want \"x in expr\"", forExpr)
	}
	body, stopTag, err := parseNodes(tokens, pos, map[string]bool{"endfor": true})
	if err != nil {
		return nil, err
	}
	if stopTag == "" {
		return nil, mockerr.Newf(mockerr.KindTemplateRender, "parse", "missing endfor")
	}
	*pos++ // consume endfor
	return &forNode{
		varName: strings.TrimSpace(parts[0]),
		seqExpr: strings.TrimSpace(parts[1]),
		body:    body,
	}, nil
}
