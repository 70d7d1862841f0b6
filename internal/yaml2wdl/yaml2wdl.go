// Package yaml2wdl embeds a YAML document, converted to JSON, in a WDL task.
//
// WDL can only import .wdl files and has no multi-line strings, so large
// inputs such as SQL are kept as YAML and compiled into a GetYaml task whose
// output file holds the JSON. Every ~{name} reference in the document
// becomes a String input of the task.
package yaml2wdl

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"go.yaml.in/yaml/v3"
)

const DefaultVersion = "development"

const template = `version %s

task GetYaml {%s
  command {}
  output {
    File yaml = write_lines([%s])
  }
}`

var inputRef = regexp.MustCompile(`~\{[a-zA-Z]+[a-zA-Z0-9_]*\}`)

// Convert returns the WDL document for the YAML source.
func Convert(src []byte, version string) (string, error) {
	if version == "" {
		version = DefaultVersion
	}
	doc, err := ToJSON(src)
	if err != nil {
		return "", err
	}
	clause := ""
	if names := Inputs(doc); len(names) > 0 {
		vars := make([]string, len(names))
		for i, n := range names {
			vars[i] = "  String " + n
		}
		clause = "\n  input {\n  " + strings.Join(vars, "\n  ") + "\n  }"
	}
	return fmt.Sprintf(template, version, clause, quote(doc)), nil
}

// Inputs lists the distinct ~{name} references in doc, sorted.
func Inputs(doc string) []string {
	seen := map[string]struct{}{}
	for _, ref := range inputRef.FindAllString(doc, -1) {
		seen[ref[2:len(ref)-1]] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ToJSON converts a YAML document to single-line JSON. Mapping order is
// kept and items are separated by ", " and ": ".
func ToJSON(src []byte) (string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(src, &root); err != nil {
		return "", fmt.Errorf("parse yaml: %w", err)
	}
	var buf bytes.Buffer
	if root.Kind == 0 {
		buf.WriteString("null")
		return buf.String(), nil
	}
	if err := write(&buf, &root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type pair struct {
	key   string
	value *yaml.Node
}

func write(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return write(buf, n.Content[0])
	case yaml.AliasNode:
		return write(buf, n.Alias)
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range n.Content {
			if i > 0 {
				buf.WriteString(", ")
			}
			if err := write(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.MappingNode:
		pairs, err := mappingPairs(n)
		if err != nil {
			return err
		}
		buf.WriteByte('{')
		for i, p := range pairs {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(quote(p.key))
			buf.WriteString(": ")
			if err := write(buf, p.value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.ScalarNode:
		s, err := scalar(n)
		if err != nil {
			return err
		}
		buf.WriteString(s)
		return nil
	}
	return fmt.Errorf("line %d: unsupported yaml node", n.Line)
}

// mappingPairs flattens << merges in front of the explicit keys. A repeated
// key keeps its first position and its last value.
func mappingPairs(n *yaml.Node) ([]pair, error) {
	var merged, explicit []pair
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.ShortTag() == "!!merge" {
			sources := []*yaml.Node{v}
			if resolve(v).Kind == yaml.SequenceNode {
				sources = resolve(v).Content
			}
			for j := len(sources) - 1; j >= 0; j-- {
				src := resolve(sources[j])
				if src.Kind != yaml.MappingNode {
					return nil, fmt.Errorf("line %d: merge value is not a mapping", v.Line)
				}
				sub, err := mappingPairs(src)
				if err != nil {
					return nil, err
				}
				merged = append(merged, sub...)
			}
			continue
		}
		key, err := keyString(resolve(k))
		if err != nil {
			return nil, err
		}
		explicit = append(explicit, pair{key: key, value: v})
	}

	var out []pair
	index := map[string]int{}
	for _, p := range append(merged, explicit...) {
		if i, ok := index[p.key]; ok {
			out[i].value = p.value
			continue
		}
		index[p.key] = len(out)
		out = append(out, p)
	}
	return out, nil
}

func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func keyString(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("line %d: mapping keys must be scalars", n.Line)
	}
	if n.ShortTag() == "!!str" {
		return n.Value, nil
	}
	s, err := scalar(n)
	if err != nil {
		return "", err
	}
	return strings.Trim(s, `"`), nil
}

func scalar(n *yaml.Node) (string, error) {
	switch n.ShortTag() {
	case "!!null":
		return "null", nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return n.Value, nil
		}
		return strconv.FormatInt(i, 10), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return "", err
		}
		return formatFloat(f), nil
	}
	return quote(n.Value), nil
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if abs := math.Abs(f); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// quote writes s as an ASCII-only JSON string.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\b':
			b.WriteString(`\b`)
		case r == '\f':
			b.WriteString(`\f`)
		case r < 0x20 || (r > 0x7f && r <= 0xffff):
			fmt.Fprintf(&b, `\u%04x`, r)
		case r > 0xffff:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
