package identity

import (
	"fmt"
	"strings"
)

// DomainTemplate maps an exact issuer domain to a pointer template.
// "{domain}" and "{token_id}" are substituted.
type DomainTemplate struct {
	Domain   string `yaml:"domain"`
	Template string `yaml:"template"`
}

// DefaultDomainTemplates returns the known issuer domain templates.
func DefaultDomainTemplates() []DomainTemplate {
	return []DomainTemplate{
		{Domain: "https://default-example.com", Template: "{domain}/.well-known/xrpl-nft/{token_id}"},
		{Domain: "https://marketplace-api.onxrp.com/api/metadata/", Template: "{domain}{token_id}.json"},
	}
}

// DomainResolver turns an issuer domain into a metadata pointer.
type DomainResolver struct {
	templates []DomainTemplate
}

// NewDomainResolver creates a resolver; nil templates select the defaults.
func NewDomainResolver(templates []DomainTemplate) *DomainResolver {
	if templates == nil {
		templates = DefaultDomainTemplates()
	}
	return &DomainResolver{templates: templates}
}

// Pointer returns the pointer for tokenID under the issuer domain.
// Exact template matches win; any other content-addressed domain gets
// "{token_id}.json" appended; anything else is ErrUnrecognizedDomain.
func (r *DomainResolver) Pointer(domainValue, tokenID string) (string, error) {
	if domainValue == "" {
		return "", ErrNoDomain
	}
	for _, t := range r.templates {
		if t.Domain == domainValue {
			return expand(t.Template, domainValue, tokenID), nil
		}
	}
	if IsIPFS(domainValue) {
		return domainValue + tokenID + ".json", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnrecognizedDomain, domainValue)
}

func expand(template, domainValue, tokenID string) string {
	return strings.NewReplacer("{domain}", domainValue, "{token_id}", tokenID).Replace(template)
}
