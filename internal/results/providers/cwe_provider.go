// internal/results/providers/cwe_provider.go
package providers

import (
	"fmt"
)

// CWEEntry holds details about a specific CWE.
type CWEEntry struct {
	ID          string
	Name        string
	Description string
}

// CWEProvider defines the interface for retrieving CWE information.
type CWEProvider interface {
	GetCWE(id string) (*CWEEntry, error)
}

// InMemoryCWEProvider provides a basic in-memory implementation of CWEProvider.
type InMemoryCWEProvider struct {
	data map[string]CWEEntry
}

// NewInMemoryCWEProvider creates a provider preloaded with the weaknesses the
// host header analysis reports against.
func NewInMemoryCWEProvider() *InMemoryCWEProvider {
	data := map[string]CWEEntry{
		"CWE-601": {ID: "CWE-601", Name: "URL Redirection to Untrusted Site ('Open Redirect')", Description: "The web application accepts a user-controlled input that specifies a link to an external site, and uses that link in a redirect."},
		"CWE-644": {ID: "CWE-644", Name: "Improper Neutralization of HTTP Headers for Scripting Syntax", Description: "The application does not neutralize or incorrectly neutralizes web scripting syntax in HTTP headers that can be used by web browser components."},
		"CWE-640": {ID: "CWE-640", Name: "Weak Password Recovery Mechanism for Forgotten Password", Description: "The software contains a mechanism for users to recover or change their passwords without knowing the original password, but the mechanism is weak."},
		"CWE-346": {ID: "CWE-346", Name: "Origin Validation Error", Description: "The software does not properly verify that the source of data or communication is valid."},
		"CWE-348": {ID: "CWE-348", Name: "Use of Less Trusted Source", Description: "The software has two different sources of the same data or information, but it uses the source that has less support for verification, is less trusted, or is less resistant to spoofing."},
		"CWE-117": {ID: "CWE-117", Name: "Improper Output Neutralization for Logs", Description: "The software does not neutralize or incorrectly neutralizes output that is written to logs."},
		"CWE-20":  {ID: "CWE-20", Name: "Improper Input Validation", Description: "The product receives input or data, but it does not validate or incorrectly validates that the input has the properties that are required to process the data safely and correctly."},
	}
	return &InMemoryCWEProvider{data: data}
}

// GetCWE retrieves CWE details by ID. Unknown IDs yield a generic entry so
// enrichment never fails the pipeline.
func (p *InMemoryCWEProvider) GetCWE(id string) (*CWEEntry, error) {
	entry, exists := p.data[id]
	if !exists {
		return &CWEEntry{ID: id, Name: fmt.Sprintf("%s (Details Not Found)", id), Description: "Details for this CWE ID are not available in the local database."}, nil
	}
	return &entry, nil
}
