package sso

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// Well-known claim URIs used by ADFS and Azure AD
const (
	ClaimEmailAddressURI = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"
	ClaimNameURI         = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"
)

// samlDocument is the flattened content of a SAML response
type samlDocument struct {
	nameID     string
	attributes map[string][]string
}

func (d *samlDocument) first(names ...string) string {
	for _, name := range names {
		if name == "" {
			continue
		}
		for _, v := range d.attributes[name] {
			if v != "" {
				return v
			}
		}
	}
	return ""
}

// ParseSAML extracts the subject, email, name and groups from a decoded
// SAML response or bare assertion. Namespace prefixes are ignored. The
// result depends only on its inputs. It fails with
// auth.ErrMissingEmailAttribute when no email can be resolved.
func ParseSAML(payload []byte, cfg *SamlConfig) (*auth.AssertionAttributes, error) {
	doc, err := walkSAML(payload)
	if err != nil {
		return nil, auth.NewError(auth.CodeMissingEmailAttribute, "SAML response is not well-formed XML", err)
	}
	return resolveSAML(doc, cfg)
}

func resolveSAML(doc *samlDocument, cfg *SamlConfig) (*auth.AssertionAttributes, error) {
	var mapping AttributeMapping
	if cfg != nil {
		mapping = cfg.Attributes
	}
	mapping = mapping.WithDefaults()

	attrs := &auth.AssertionAttributes{
		Subject: doc.nameID,
		Email:   doc.first(mapping.Email, "Email", "mail", ClaimEmailAddressURI),
		Name:    doc.first(mapping.Name, "Name", ClaimNameURI),
	}
	if attrs.Email == "" && strings.Contains(attrs.Subject, "@") {
		attrs.Email = attrs.Subject
	}
	if attrs.Email == "" {
		return nil, auth.ErrMissingEmailAttribute
	}

	for _, g := range doc.attributes[mapping.Groups] {
		if g != "" {
			attrs.Groups = append(attrs.Groups, g)
		}
	}
	return attrs, nil
}

// walkSAML streams the document once, collecting the first NameID and every
// Attribute's values keyed by Name (and FriendlyName when present).
func walkSAML(payload []byte) (*samlDocument, error) {
	doc := &samlDocument{attributes: make(map[string][]string)}
	dec := xml.NewDecoder(bytes.NewReader(payload))

	var (
		attrNames []string // names of the Attribute element being read
		inValue   bool
		inNameID  bool
		text      strings.Builder
		sawRoot   bool
	)

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
			sawRoot = true
			switch t.Name.Local {
			case "NameID":
				if doc.nameID == "" {
					inNameID = true
					text.Reset()
				}
			case "Attribute":
				attrNames = attrNames[:0]
				for _, a := range t.Attr {
					if (a.Name.Local == "Name" || a.Name.Local == "FriendlyName") && a.Value != "" &&
						(len(attrNames) == 0 || attrNames[0] != a.Value) {
						attrNames = append(attrNames, a.Value)
					}
				}
			case "AttributeValue":
				if len(attrNames) > 0 {
					inValue = true
					text.Reset()
				}
			}
		case xml.CharData:
			if inNameID || inValue {
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "NameID":
				if inNameID {
					doc.nameID = strings.TrimSpace(text.String())
					inNameID = false
				}
			case "AttributeValue":
				if inValue {
					v := strings.TrimSpace(text.String())
					for _, name := range attrNames {
						doc.attributes[name] = append(doc.attributes[name], v)
					}
					inValue = false
				}
			case "Attribute":
				attrNames = attrNames[:0]
			}
		}
	}

	if !sawRoot {
		return nil, errors.New("empty document")
	}
	return doc, nil
}
