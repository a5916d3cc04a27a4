package carrier

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/storefront/backend/internal/domain/delivery"
)

// SOAP 1.1 and WS-Security namespaces
const (
	soapEnvelopeNS   = "http://schemas.xmlsoap.org/soap/envelope/"
	wsseNS           = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	wssePasswordText = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
)

// SOAPAdapter wraps the payload in a SOAP 1.1 CreateOrder envelope
type SOAPAdapter struct {
	transport *transport
	namespace string
	action    string
}

// NewSOAPAdapter creates a SOAP adapter
func NewSOAPAdapter(config *Config, client *http.Client) (*SOAPAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SOAPAdapter{
		transport: newTransport(config, client),
		namespace: config.SOAPNamespace,
		action:    config.SOAPAction,
	}, nil
}

// Format returns the API format this adapter handles
func (a *SOAPAdapter) Format() delivery.APIFormat {
	return delivery.APIFormatSOAP
}

// Send posts the envelope and checks the response for a Fault
func (a *SOAPAdapter) Send(ctx context.Context, req *delivery.SendRequest) *delivery.SendResult {
	started := time.Now()

	body, err := a.buildEnvelope(req.Payload, req.Credentials)
	if err != nil {
		return finish(delivery.Failed(delivery.FailureTransport, 0, "", fmt.Sprintf("carrier: encode envelope: %v", err)), started)
	}

	headers := map[string]string{
		"Content-Type": "text/xml; charset=utf-8",
		"SOAPAction":   `"` + a.action + `"`,
	}
	if req.Credentials != nil && req.Credentials.APIKey != "" {
		headers["X-API-Key"] = req.Credentials.APIKey
	}

	resp, err := a.transport.post(ctx, req.BaseURL, body, headers)
	if err != nil {
		return transportFailure(err, started)
	}
	return finish(interpretSOAP(resp), started)
}

// buildEnvelope renders the payload as namespaced child elements of CreateOrder.
// Keys are sorted so the same payload always yields the same document.
func (a *SOAPAdapter) buildEnvelope(payload map[string]any, creds *delivery.Credentials) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)

	envelope := xml.StartElement{
		Name: xml.Name{Local: "soapenv:Envelope"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:soapenv"}, Value: soapEnvelopeNS},
			{Name: xml.Name{Local: "xmlns:dlv"}, Value: a.namespace},
		},
	}
	header := xml.StartElement{Name: xml.Name{Local: "soapenv:Header"}}
	soapBody := xml.StartElement{Name: xml.Name{Local: "soapenv:Body"}}
	operation := xml.StartElement{Name: xml.Name{Local: "dlv:CreateOrder"}}

	tokens := []xml.Token{envelope, header}
	if creds != nil && creds.Login != "" && creds.Password != "" {
		tokens = append(tokens, usernameToken(creds)...)
	}
	tokens = append(tokens, header.End(), soapBody, operation)
	if err := encodeTokens(enc, tokens); err != nil {
		return nil, err
	}
	if err := encodeMap(enc, "dlv:", payload); err != nil {
		return nil, err
	}
	if err := encodeTokens(enc, []xml.Token{operation.End(), soapBody.End(), envelope.End()}); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func usernameToken(creds *delivery.Credentials) []xml.Token {
	security := xml.StartElement{
		Name: xml.Name{Local: "wsse:Security"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns:wsse"}, Value: wsseNS}},
	}
	token := xml.StartElement{Name: xml.Name{Local: "wsse:UsernameToken"}}
	username := xml.StartElement{Name: xml.Name{Local: "wsse:Username"}}
	password := xml.StartElement{
		Name: xml.Name{Local: "wsse:Password"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "Type"}, Value: wssePasswordText}},
	}
	return []xml.Token{
		security, token,
		username, xml.CharData(creds.Login), username.End(),
		password, xml.CharData(creds.Password), password.End(),
		token.End(), security.End(),
	}
}

func encodeTokens(enc *xml.Encoder, tokens []xml.Token) error {
	for _, t := range tokens {
		if err := enc.EncodeToken(t); err != nil {
			return err
		}
	}
	return nil
}

func encodeMap(enc *xml.Encoder, prefix string, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := encodeValue(enc, prefix+SanitizeElementName(k), m[k]); err != nil {
			return err
		}
	}
	return nil
}

// encodeValue writes value under name. Maps nest, slices repeat the element.
func encodeValue(enc *xml.Encoder, name string, value any) error {
	if items, ok := value.([]any); ok {
		for _, item := range items {
			if err := encodeValue(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	}

	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if nested, ok := value.(map[string]any); ok {
		prefix := ""
		if i := strings.IndexByte(name, ':'); i >= 0 {
			prefix = name[:i+1]
		}
		if err := encodeMap(enc, prefix, nested); err != nil {
			return err
		}
	} else if err := enc.EncodeToken(xml.CharData(delivery.Stringify(value))); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}

// SanitizeElementName turns an arbitrary payload key into a valid XML name
func SanitizeElementName(key string) string {
	var b strings.Builder
	for i, r := range key {
		valid := r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || (i > 0 && (r == '-' || r == '.'))
		if valid {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" {
		return "_"
	}
	if first := []rune(name)[0]; unicode.IsDigit(first) || first == '-' || first == '.' {
		name = "_" + name
	}
	if strings.HasPrefix(strings.ToLower(name), "xml") {
		name = "_" + name
	}
	return name
}

// ---------------------------------------------------------------------------
// Response interpretation
// ---------------------------------------------------------------------------

// soapScan is what interpretSOAP needs from a response document
type soapScan struct {
	elements    int
	fault       bool
	faultString string
	leaves      map[string]string
}

func scanSOAP(body []byte) (*soapScan, error) {
	scan := &soapScan{leaves: make(map[string]string)}
	dec := xml.NewDecoder(bytes.NewReader(body))

	var current string
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			scan.elements++
			if strings.EqualFold(t.Name.Local, "Fault") {
				scan.fault = true
			}
			current = t.Name.Local
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local == current {
				value := strings.TrimSpace(text.String())
				if value != "" {
					if _, seen := scan.leaves[current]; !seen {
						scan.leaves[current] = value
					}
					if strings.EqualFold(current, "faultstring") || strings.EqualFold(current, "Text") {
						scan.faultString = value
					}
				}
			}
			current = ""
			text.Reset()
		}
	}
	return scan, nil
}

// interpretSOAP succeeds iff the body parses as XML and carries no Fault
func interpretSOAP(resp *httpResponse) *delivery.SendResult {
	raw := string(resp.Body)
	scan, err := scanSOAP(resp.Body)
	if err != nil || scan.elements == 0 {
		if !resp.IsSuccess() {
			return delivery.Failed(delivery.FailureRejected, resp.StatusCode, raw, fmt.Sprintf("carrier returned HTTP %d", resp.StatusCode))
		}
		return delivery.Failed(delivery.FailureUnexpectedShape, resp.StatusCode, raw, "carrier: response is not a SOAP document")
	}

	if scan.fault {
		msg := scan.faultString
		if msg == "" {
			msg = "carrier: soap fault"
		}
		return delivery.Failed(delivery.FailureRejected, resp.StatusCode, raw, msg)
	}
	if !resp.IsSuccess() {
		return delivery.Failed(delivery.FailureRejected, resp.StatusCode, raw, fmt.Sprintf("carrier returned HTTP %d", resp.StatusCode))
	}

	// element names are usually PascalCase in SOAP ("OrderId")
	leaves := make(map[string]any, len(scan.leaves)*2)
	for k, v := range scan.leaves {
		leaves[k] = v
		if lower := lowerFirst(k); lower != k {
			if _, exists := scan.leaves[lower]; !exists {
				leaves[lower] = v
			}
		}
	}
	ids := extractIdentifiers(leaves)
	return &delivery.SendResult{
		Success:         true,
		StatusCode:      resp.StatusCode,
		RawResponse:     raw,
		ExternalOrderID: ids.ExternalOrderID,
		ExternalStatus:  ids.ExternalStatus,
		TrackingNumber:  ids.TrackingNumber,
	}
}

func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// Ensure SOAPAdapter implements ProviderAdapter
var _ delivery.ProviderAdapter = (*SOAPAdapter)(nil)
