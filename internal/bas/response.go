package bas

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// ParseResponse interprets a Batch Activation Service HTTP body. The body is a
// SOAP envelope whose ResponseXml element carries a second, escaped XML
// document; the two documents are parsed in sequence so that failures report
// which layer was malformed.
func ParseResponse(body []byte) (string, error) {
	outer, err := findElements(body, serviceNS, "ResponseXml")
	if err != nil {
		return "", &ProtocolError{Stage: "outer", Reason: "malformed SOAP envelope", Err: err}
	}
	responseXML, ok := outer["ResponseXml"]
	if !ok {
		return "", &ProtocolError{Stage: "outer", Reason: "ResponseXml element missing"}
	}
	if strings.TrimSpace(responseXML) == "" {
		return "", &ProtocolError{Stage: "outer", Reason: "ResponseXml element is empty"}
	}

	inner, err := findElements([]byte(responseXML), responseNS, "ErrorCode", "ResponseType", "CID", "ActivationRemaining")
	if err != nil {
		return "", &ProtocolError{Stage: "inner", Reason: "malformed activation response", Err: err}
	}

	if code, ok := inner["ErrorCode"]; ok {
		return "", newBusinessError(strings.TrimSpace(code))
	}

	responseType, ok := inner["ResponseType"]
	if !ok {
		return "", &ProtocolError{Stage: "inner", Reason: "unrecognized response"}
	}

	var field string
	switch strings.TrimSpace(responseType) {
	case "1":
		field = "CID"
	case "2":
		field = "ActivationRemaining"
	default:
		return "", &ProtocolError{Stage: "inner", Reason: "unrecognized response type " + responseType}
	}

	value, ok := inner[field]
	if !ok {
		return "", &ProtocolError{Stage: "inner", Reason: field + " element missing"}
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", &ProtocolError{Stage: "inner", Reason: "empty " + field}
	}
	return value, nil
}

// findElements walks doc and returns the text of the first element in
// namespace ns for each of the requested local names, at any depth.
func findElements(doc []byte, ns string, locals ...string) (map[string]string, error) {
	wanted := make(map[string]bool, len(locals))
	for _, l := range locals {
		wanted[l] = true
	}

	dec := xml.NewDecoder(bytes.NewReader(doc))
	dec.CharsetReader = charsetReader

	found := make(map[string]string, len(locals))
	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true

		if start.Name.Space != ns || !wanted[start.Name.Local] {
			continue
		}
		if _, dup := found[start.Name.Local]; dup {
			if err := dec.Skip(); err != nil {
				return nil, err
			}
			continue
		}

		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return nil, err
		}
		found[start.Name.Local] = text
	}

	if !sawRoot {
		return nil, errors.New("document has no root element")
	}
	return found, nil
}

// charsetReader lets the decoder accept the encoding declared by the embedded
// response. ResponseXml is already decoded text by the time it is parsed, so a
// UTF-16 declaration is passed through unchanged.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "utf-16", "utf-16le", "utf-16be", "unicode":
		return input, nil
	}
	return charset.NewReaderLabel(label, input)
}
