package ir

// Config represents the top-level configuration.
type Config struct {
	Resources   []*Resource    `pkl:"resources" validate:"dive"`
	Purges      []*Purge       `pkl:"purges" validate:"dive"`
	Credentials []*Credential  `pkl:"credentials" validate:"dive"`
	Outputs     map[string]any `pkl:"outputs"`
}

// Purge declares that unmanaged live instances of a resource type should be
// removed.
type Purge struct {
	Type  string `pkl:"type" validate:"required"`
	Purge bool   `pkl:"purge"`

	// UnlessSystemPrincipal is a bool or a numeric uid threshold.
	UnlessSystemPrincipal any `pkl:"unlessSystemPrincipal"`
	// UnlessIdentifier accepts integers, IntSeq ranges, "1,10..20" strings
	// and listings mixing them.
	UnlessIdentifier any `pkl:"unlessIdentifier"`

	Account   string            `pkl:"account"`
	DependsOn []string          `pkl:"dependsOn"`
	Tags      map[string]string `pkl:"tags"`
}

// Credential holds the account used to talk to a provider API.
type Credential struct {
	Name         string `pkl:"name" validate:"required"`
	AccessKey    string `pkl:"accessKey" validate:"required_with=SecretKey"`
	SecretKey    string `pkl:"secretKey" validate:"required_with=AccessKey"`
	SessionToken string `pkl:"sessionToken"`
	Profile      string `pkl:"profile" validate:"excluded_with=AccessKey"`
	Region       string `pkl:"region"`
}

// Credential returns the named credential, or nil if it is not declared.
func (c *Config) Credential(name string) *Credential {
	if c == nil {
		return nil
	}
	for _, cred := range c.Credentials {
		if cred.Name == name {
			return cred
		}
	}
	return nil
}
