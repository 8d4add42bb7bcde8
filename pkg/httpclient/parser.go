package httpclient

import (
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// ParseBody decodes a response body by content type. JSON and XML become generic
// maps, text becomes a string and anything else is wrapped as base64.
func ParseBody(resp *Response) (any, error) {
	if len(resp.Body) == 0 {
		return nil, nil
	}

	contentType := strings.ToLower(resp.ContentType)

	switch {
	case strings.Contains(contentType, "json"):
		var result any
		if err := json.Unmarshal(resp.Body, &result); err != nil {
			return string(resp.Body), fmt.Errorf("failed to parse JSON: %w", err)
		}
		return result, nil
	case strings.Contains(contentType, "xml"):
		result, err := xmlToMap(resp.Body)
		if err != nil {
			return string(resp.Body), fmt.Errorf("failed to parse XML: %w", err)
		}
		return result, nil
	case strings.HasPrefix(contentType, "text/"), contentType == "":
		return string(resp.Body), nil
	default:
		return map[string]any{
			"_binary":       true,
			"_content_type": resp.ContentType,
			"_base64":       base64.StdEncoding.EncodeToString(resp.Body),
			"_size":         len(resp.Body),
		}, nil
	}
}

// xmlNode is a generic XML element
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func xmlToMap(data []byte) (map[string]any, error) {
	var node xmlNode
	if err := xml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return nodeToMap(node), nil
}

// nodeToMap keys attributes with "@", text with "#text" and collapses
// single-occurrence children
func nodeToMap(node xmlNode) map[string]any {
	result := make(map[string]any)
	for _, attr := range node.Attrs {
		result["@"+attr.Name.Local] = attr.Value
	}

	if len(node.Children) == 0 {
		content := strings.TrimSpace(node.Content)
		if content != "" {
			if len(result) == 0 {
				return map[string]any{node.XMLName.Local: content}
			}
			result["#text"] = content
		}
		return map[string]any{node.XMLName.Local: result}
	}

	groups := make(map[string][]any)
	for _, child := range node.Children {
		for k, v := range nodeToMap(child) {
			groups[k] = append(groups[k], v)
		}
	}
	for name, values := range groups {
		if len(values) == 1 {
			result[name] = values[0]
		} else {
			result[name] = values
		}
	}

	return map[string]any{node.XMLName.Local: result}
}

// IsSuccessStatus returns true if the status code indicates success
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
