package purge

import (
	"fmt"
	"maps"
	"slices"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
)

// TypeResolver looks up the capability descriptor of a resource type.
type TypeResolver interface {
	ResourceType(name string) (ir.ResourceType, bool)
}

// CredentialSource resolves an account name to a declared credential.
type CredentialSource interface {
	Credential(name string) *ir.Credential
}

// Policy is a validated purge declaration.
type Policy struct {
	Type      ir.ResourceType
	Purge     bool
	Threshold Threshold
	Unless    IdentifierSet

	// Credential is nil when the provider's default credentials apply.
	Credential *ir.Credential

	// Metaparameters copied onto every generated resource.
	DependsOn []string
	Tags      map[string]string
}

// NewPolicy validates decl against the capabilities of its type. All
// configuration problems are reported here, before any enumeration.
func NewPolicy(decl *ir.Purge, types TypeResolver, accounts CredentialSource) (*Policy, error) {
	typ, ok := types.ResourceType(decl.Type)
	if !ok {
		return nil, &ConfigurationError{
			Type:   decl.Type,
			Err:    ErrUnknownType,
			Reason: fmt.Sprintf("could not find resource type %q", decl.Type),
		}
	}

	if decl.Purge {
		if !typ.Capabilities.Enumerable {
			return nil, &ConfigurationError{
				Type:   typ.Name,
				Param:  "purge",
				Err:    ErrPurgeUnsupported,
				Reason: "instances cannot be queried from the system",
			}
		}
		if !typ.Capabilities.Absentable {
			return nil, &ConfigurationError{
				Type:   typ.Name,
				Param:  "purge",
				Err:    ErrPurgeUnsupported,
				Reason: "type does not accept ensure=absent",
			}
		}
	}

	threshold, err := ParseThreshold(decl.UnlessSystemPrincipal, typ.Capabilities.IdentityProtected)
	if err != nil {
		return nil, &ConfigurationError{Type: typ.Name, Param: "unlessSystemPrincipal", Err: err}
	}
	unless, err := ParseIdentifierSet(decl.UnlessIdentifier)
	if err != nil {
		return nil, &ConfigurationError{Type: typ.Name, Param: "unlessIdentifier", Err: err}
	}

	if !typ.Capabilities.IdentityProtected && (decl.UnlessSystemPrincipal != nil || unless != nil) {
		logging.Warn("identity exclusions are ignored for this type", "type", typ.Name)
	}

	var cred *ir.Credential
	if decl.Account != "" {
		if accounts != nil {
			cred = accounts.Credential(decl.Account)
		}
		if cred == nil {
			return nil, &ConfigurationError{
				Type:   typ.Name,
				Param:  "account",
				Err:    ErrUnknownAccount,
				Reason: fmt.Sprintf("no credential named %q", decl.Account),
			}
		}
	}

	return &Policy{
		Type:       typ,
		Purge:      decl.Purge,
		Threshold:  threshold,
		Unless:     unless,
		Credential: cred,
		DependsOn:  slices.Clone(decl.DependsOn),
		Tags:       maps.Clone(decl.Tags),
	}, nil
}
