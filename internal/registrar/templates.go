// DNS record templates applied after registration when the buyer keeps
// registrar nameservers. Template ids are part of the public API surface.
package registrar

// DNSTemplate is a named set of records applied in one batch.
type DNSTemplate struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Records []Record `json:"records"`
}

// DefaultDNSTemplateID is applied when the buyer does not pick a template.
const DefaultDNSTemplateID = "web-basic"

// dnsTemplates is the built-in template registry.
var dnsTemplates = map[string]DNSTemplate{
	"web-basic": {
		ID:   "web-basic",
		Name: "Basic website",
		Records: []Record{
			{Type: "A", Name: "@", Value: "76.76.21.21", TTL: 600},
			{Type: "CNAME", Name: "www", Value: "@", TTL: 600},
		},
	},
	"email-basic": {
		ID:   "email-basic",
		Name: "Basic email",
		Records: []Record{
			{Type: "MX", Name: "@", Value: "mx1.forwardemail.net", TTL: 3600, Prio: 10},
			{Type: "MX", Name: "@", Value: "mx2.forwardemail.net", TTL: 3600, Prio: 20},
			{Type: "TXT", Name: "@", Value: "v=spf1 a mx include:spf.forwardemail.net -all", TTL: 3600},
		},
	},
	"parked": {
		ID:   "parked",
		Name: "Parked",
		Records: []Record{
			{Type: "A", Name: "@", Value: "0.0.0.0", TTL: 3600},
			{Type: "TXT", Name: "@", Value: "parked", TTL: 3600},
		},
	},
}

// LookupTemplate returns the template for id. The boolean is false for an
// unknown id; callers turn that into a user-visible error.
func LookupTemplate(id string) (DNSTemplate, bool) {
	t, ok := dnsTemplates[id]
	return t, ok
}

// TemplateIDs lists the known template ids, for diagnostics.
func TemplateIDs() []string {
	out := make([]string, 0, len(dnsTemplates))
	for id := range dnsTemplates {
		out = append(out, id)
	}
	return out
}
