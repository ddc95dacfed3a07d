package qb

import "fmt"

// Environment selects which QuickBooks Online deployment the context talks
// to. Sandbox and production use different API hosts but share the same
// OAuth token endpoint.
type Environment int

const (
	Sandbox Environment = iota
	Production
)

// ParseEnvironment maps the configuration string to an Environment.
// An empty string defaults to Sandbox.
func ParseEnvironment(s string) (Environment, error) {
	switch s {
	case "", "sandbox":
		return Sandbox, nil
	case "production":
		return Production, nil
	default:
		return Sandbox, fmt.Errorf("unknown environment %q (expected \"sandbox\" or \"production\")", s)
	}
}

func (e Environment) String() string {
	if e == Production {
		return "production"
	}
	return "sandbox"
}

// EndpointURL returns the base URL of the v3 accounting API.
func (e Environment) EndpointURL() string {
	if e == Production {
		return "https://quickbooks.api.intuit.com/v3/"
	}
	return "https://sandbox-quickbooks.api.intuit.com/v3/"
}

// TokenEndpoint returns the OAuth2 token-exchange URL used to refresh
// access tokens. It is the same for both environments.
func (e Environment) TokenEndpoint() string {
	return "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
}

// UserInfoURL returns the OpenID userinfo endpoint, useful for checking
// whether an access token is still accepted.
func (e Environment) UserInfoURL() string {
	if e == Production {
		return "https://accounts.platform.intuit.com/v1/openid_connect/userinfo"
	}
	return "https://sandbox-accounts.platform.intuit.com/v1/openid_connect/userinfo"
}
