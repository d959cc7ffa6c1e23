package bas

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// RequestType selects the operation carried by an activation request.
type RequestType int

const (
	Activate       RequestType = 1
	QueryRemaining RequestType = 2
)

func (t RequestType) String() string {
	switch t {
	case Activate:
		return "activate"
	case QueryRemaining:
		return "query_remaining"
	default:
		return fmt.Sprintf("request_type_%d", int(t))
	}
}

const (
	protocolVersion = "2.0"

	soapEnvelopeNS      = "http://schemas.xmlsoap.org/soap/envelope/"
	xmlSchemaInstanceNS = "http://www.w3.org/2001/XMLSchema-instance"
	xmlSchemaNS         = "http://www.w3.org/2001/XMLSchema"
	serviceNS           = "http://www.microsoft.com/BatchActivationService"
	requestNS           = "http://www.microsoft.com/DRM/SL/BatchActivationRequest/1.0"
	responseNS          = "http://www.microsoft.com/DRM/SL/BatchActivationResponse/1.0"
)

// Key is the HMAC-SHA256 key shared with the activation service. Only the
// first 32 bytes carry entropy; the zero tail is part of the wire contract.
type Key [64]byte

// DefaultKey is the signing key the Batch Activation Service accepts.
var DefaultKey = Key{
	254, 49, 152, 117, 251, 72, 132, 134,
	156, 243, 241, 206, 153, 168, 144, 100,
	171, 87, 31, 202, 71, 4, 80, 88,
	48, 36, 226, 20, 98, 135, 121, 160,
}

// Sign returns the base64 HMAC-SHA256 of payload.
func (k Key) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, k[:])
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type activationRequest struct {
	XMLName       xml.Name     `xml:"http://www.microsoft.com/DRM/SL/BatchActivationRequest/1.0 ActivationRequest"`
	VersionNumber string       `xml:"VersionNumber"`
	RequestType   int          `xml:"RequestType"`
	Requests      []requestRow `xml:"Requests>Request"`
}

type requestRow struct {
	PID string `xml:"PID"`
	IID string `xml:"IID,omitempty"`
}

type soapEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	Soap    string   `xml:"xmlns:soap,attr"`
	Xsi     string   `xml:"xmlns:xsi,attr"`
	Xsd     string   `xml:"xmlns:xsd,attr"`
	Body    soapBody `xml:"soap:Body"`
}

type soapBody struct {
	BatchActivate batchActivate `xml:"http://www.microsoft.com/BatchActivationService BatchActivate"`
}

type batchActivate struct {
	Request signedRequest `xml:"request"`
}

type signedRequest struct {
	Digest     string `xml:"Digest"`
	RequestXML string `xml:"RequestXml"`
}

// encodeRequest renders the inner activation request as UTF-16LE bytes, the
// exact bytes that are signed and then base64 encoded for transmission.
func encodeRequest(requestType RequestType, installationID, extendedProductID string) ([]byte, error) {
	row := requestRow{PID: extendedProductID}
	if requestType == Activate {
		row.IID = installationID
	}

	doc, err := xml.MarshalIndent(activationRequest{
		VersionNumber: protocolVersion,
		RequestType:   int(requestType),
		Requests:      []requestRow{row},
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal activation request: %w", err)
	}

	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes(doc)
	if err != nil {
		return nil, fmt.Errorf("encode activation request as UTF-16: %w", err)
	}
	return encoded, nil
}

// BuildEnvelope produces the signed SOAP document for one request.
func BuildEnvelope(key Key, requestType RequestType, installationID, extendedProductID string) ([]byte, error) {
	payload, err := encodeRequest(requestType, installationID, extendedProductID)
	if err != nil {
		return nil, err
	}

	env := soapEnvelope{
		Soap: soapEnvelopeNS,
		Xsi:  xmlSchemaInstanceNS,
		Xsd:  xmlSchemaNS,
		Body: soapBody{BatchActivate: batchActivate{Request: signedRequest{
			Digest:     key.Sign(payload),
			RequestXML: base64.StdEncoding.EncodeToString(payload),
		}}},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("marshal soap envelope: %w", err)
	}
	return buf.Bytes(), nil
}
