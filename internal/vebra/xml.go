package vebra

import (
	"bytes"
	"strings"

	"github.com/clbanning/mxj/v2"
	"golang.org/x/net/html/charset"
)

func init() {
	// Feeds may declare ISO-8859-1 or windows-1252 in the XML prolog.
	mxj.XmlCharsetReader = charset.NewReaderLabel
}

const (
	attrsKey = "$"
	textKey  = "_"
)

// DecodeXML converts an XML document into nested maps and slices.
//
// Elements become map keys and repeated elements become slices. Attributes of an
// element are grouped in a map under "$" and text next to attributes is stored
// under "_". All values stay strings. An empty document decodes to an empty map.
func DecodeXML(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}

	m, err := mxj.NewMapXml(body)
	if err != nil {
		return nil, err
	}
	return groupAttrs(map[string]any(m)), nil
}

// groupAttrs rewrites mxj's "-name" attribute keys and "#text" key.
func groupAttrs(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	var attrs map[string]any
	for k, v := range m {
		switch {
		case strings.HasPrefix(k, "-"):
			if attrs == nil {
				attrs = make(map[string]any)
			}
			attrs[k[1:]] = v
		case k == "#text":
			out[textKey] = v
		default:
			out[k] = regroup(v)
		}
	}
	if attrs != nil {
		out[attrsKey] = attrs
	}
	return out
}

func regroup(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return groupAttrs(v)
	case []any:
		for i, item := range v {
			v[i] = regroup(item)
		}
		return v
	default:
		return v
	}
}
