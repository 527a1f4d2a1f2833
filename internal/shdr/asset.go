package shdr

import (
	"strings"

	"github.com/google/uuid"
)

// Asset is an out-of-band document, such as a cutting tool definition,
// published as a multiline block rather than through the change set.
type Asset struct {
	ID       string
	Type     string
	Document string
}

const (
	assetKeyword     = "@ASSET@"
	multilinePrefix  = "--multiline--"
	boundaryTokenLen = 8
)

// newBoundary returns a token that does not occur in doc.
func newBoundary(doc string) string {
	for {
		token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:boundaryTokenLen]
		if !strings.Contains(doc, multilinePrefix+token) {
			return token
		}
	}
}
